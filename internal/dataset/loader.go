package dataset

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"call-review-go/internal/types"
)

// Entry is one call listed in a batch manifest.
type Entry struct {
	Row      int // 1-based spreadsheet row
	CallID   string
	Audio    string // local path, http(s) URL or Drive share link
	Language types.Language
	Context  string
}

type columns struct {
	audio, callID, lang, context int
}

// detectColumns finds the manifest columns by header heuristics. The audio
// column falls back to the first column when no header matches.
func detectColumns(header []string) columns {
	cols := columns{audio: -1, callID: -1, lang: -1, context: -1}
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "audio") || strings.Contains(l, "record") || strings.Contains(l, "url") ||
			strings.Contains(l, "link") || strings.Contains(l, "path") || strings.Contains(l, "file"):
			if cols.audio == -1 {
				cols.audio = i
			}
		case strings.Contains(l, "call id") || strings.Contains(l, "callid") || strings.Contains(l, "call_id") || l == "id":
			if cols.callID == -1 {
				cols.callID = i
			}
		case strings.Contains(l, "lang"):
			if cols.lang == -1 {
				cols.lang = i
			}
		case strings.Contains(l, "context") || strings.Contains(l, "note") || strings.Contains(l, "type"):
			if cols.context == -1 {
				cols.context = i
			}
		}
	}
	if cols.audio == -1 {
		cols.audio = 0
	}
	return cols
}

func cell(r []string, idx int) string {
	if idx < 0 || idx >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[idx])
}

// LoadManifest reads the first sheet of the workbook at path.
func LoadManifest(path string) ([]Entry, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	return readManifest(f)
}

// ReadManifest reads a workbook from r.
func ReadManifest(r io.Reader) ([]Entry, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return readManifest(f)
}

func readManifest(f *excelize.File) ([]Entry, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}
	cols := detectColumns(rows[0])

	var out []Entry
	for i, r := range rows[1:] {
		e := Entry{
			Row:      i + 2,
			CallID:   cell(r, cols.callID),
			Audio:    cell(r, cols.audio),
			Language: types.LangAuto,
			Context:  cell(r, cols.context),
		}
		if l := cell(r, cols.lang); l != "" {
			e.Language = types.ParseLanguage(l)
		}
		// rows without an audio reference are skipped quietly
		if e.Audio == "" {
			continue
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no rows with an audio reference")
	}
	return out, nil
}
