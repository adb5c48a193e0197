package giftcard

import (
	"math"
	"strings"
)

// tsvHeader is the first line of every export
const tsvHeader = "檔案名稱\t序號\t密碼"

var tsvFieldReplacer = strings.NewReplacer("\t", " ", "\r\n", " ", "\n", " ", "\r", " ")

// ExportTSV renders results as tab-separated values with a header row
func ExportTSV(results []Result) string {
	lines := make([]string, 0, len(results)+1)
	lines = append(lines, tsvHeader)
	for _, r := range results {
		lines = append(lines, strings.Join([]string{
			tsvFieldReplacer.Replace(r.FileName),
			tsvFieldReplacer.Replace(r.SerialNumber),
			tsvFieldReplacer.Replace(r.Password),
		}, "\t"))
	}
	return strings.Join(lines, "\n")
}

// Progress returns the percentage of resolved results, rounded to a whole number
func Progress(results []Result) int {
	if len(results) == 0 {
		return 0
	}
	completed := 0
	for _, r := range results {
		if r.Resolved() {
			completed++
		}
	}
	return int(math.Round(float64(100*completed) / float64(len(results))))
}
