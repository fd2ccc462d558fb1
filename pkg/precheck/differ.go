package precheck

import (
	"fmt"
	"html"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Diff loads two artifacts from the store and renders a single
// self-contained HTML document with both contents side by side and changed
// lines marked. file1 is presented on the left, file2 on the right, in
// request order. The output is deterministic: identical inputs produce
// byte-identical reports.
func Diff(store *Store, file1, file2 string) ([]byte, error) {
	left, err := store.ReadFile(file1)
	if err != nil {
		return nil, err
	}
	right, err := store.ReadFile(file2)
	if err != nil {
		return nil, err
	}
	return renderSideBySide(file1, file2, splitLines(string(left)), splitLines(string(right))), nil
}

func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

const reportStyle = `body{font-family:monospace;font-size:12px;margin:16px}
table{border-collapse:collapse;width:100%}
th{background:#e0e0e0;text-align:left;padding:4px 8px}
td{padding:1px 8px;vertical-align:top;white-space:pre-wrap}
td.num{color:#888;text-align:right;width:1%}
td.add{background:#ddffdd}
td.del{background:#ffdddd}
td.chg{background:#ffffcc}`

func renderSideBySide(leftName, rightName string, left, right []string) []byte {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>diff: %s vs %s</title>\n", html.EscapeString(leftName), html.EscapeString(rightName))
	b.WriteString("<style>" + reportStyle + "</style>\n</head>\n<body>\n")
	fmt.Fprintf(&b, "<table>\n<tr><th></th><th>%s</th><th></th><th>%s</th></tr>\n",
		html.EscapeString(leftName), html.EscapeString(rightName))

	matcher := difflib.NewMatcher(left, right)
	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'e':
			for k := 0; k < op.I2-op.I1; k++ {
				writeRow(&b, op.I1+k+1, left[op.I1+k], "", op.J1+k+1, right[op.J1+k], "")
			}
		case 'r':
			n := op.I2 - op.I1
			if m := op.J2 - op.J1; m > n {
				n = m
			}
			for k := 0; k < n; k++ {
				lNum, lText, lClass := 0, "", ""
				rNum, rText, rClass := 0, "", ""
				if op.I1+k < op.I2 {
					lNum, lText, lClass = op.I1+k+1, left[op.I1+k], "chg"
				}
				if op.J1+k < op.J2 {
					rNum, rText, rClass = op.J1+k+1, right[op.J1+k], "chg"
				}
				writeRow(&b, lNum, lText, lClass, rNum, rText, rClass)
			}
		case 'd':
			for k := op.I1; k < op.I2; k++ {
				writeRow(&b, k+1, left[k], "del", 0, "", "")
			}
		case 'i':
			for k := op.J1; k < op.J2; k++ {
				writeRow(&b, 0, "", "", k+1, right[k], "add")
			}
		}
	}
	b.WriteString("</table>\n</body>\n</html>\n")
	return []byte(b.String())
}

func writeRow(b *strings.Builder, lNum int, lText, lClass string, rNum int, rText, rClass string) {
	b.WriteString("<tr>")
	writeCell(b, lNum, lText, lClass)
	writeCell(b, rNum, rText, rClass)
	b.WriteString("</tr>\n")
}

func writeCell(b *strings.Builder, num int, text, class string) {
	if num == 0 {
		b.WriteString(`<td class="num"></td><td></td>`)
		return
	}
	fmt.Fprintf(b, `<td class="num">%d</td>`, num)
	if class != "" {
		fmt.Fprintf(b, `<td class=%q>%s</td>`, class, html.EscapeString(text))
	} else {
		fmt.Fprintf(b, `<td>%s</td>`, html.EscapeString(text))
	}
}
