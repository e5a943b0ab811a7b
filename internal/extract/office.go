package extract

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sievedata/sieve/internal/domain"
)

// extractDocx pulls paragraph text out of a .docx archive
// (word/document.xml). Non-zip payloads are treated as corrupt.
func extractDocx(payload []byte) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExtraction, "payload is not a word-processor document", err)
	}

	data, err := readZipFile(zr, "word/document.xml")
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExtraction, "document body missing from archive", err)
	}

	text, err := wordXMLText(data)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExtraction, "failed to parse document body", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExtraction, "document contains no text", nil)
	}
	return &Result{Text: text}, nil
}

// wordXMLText streams the WordprocessingML body, collecting run text and
// turning paragraph ends into newlines.
func wordXMLText(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var sb strings.Builder
	inText := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return collapseBlankLines(sb.String()), nil
}

// extractSpreadsheet handles tabular payloads: .xlsx archives and plain
// CSV. Cells are joined by tabs, rows by newlines.
func extractSpreadsheet(payload []byte) (*Result, error) {
	if bytes.HasPrefix(payload, []byte("PK")) {
		return extractXlsx(payload)
	}
	return extractCSV(payload)
}

func extractCSV(payload []byte) (*Result, error) {
	r := csv.NewReader(bytes.NewReader(payload))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows []string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExtraction, "failed to parse tabular data", err)
		}
		rows = append(rows, strings.Join(record, "\t"))
	}
	if len(rows) == 0 {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExtraction, "spreadsheet contains no rows", nil)
	}
	return &Result{Text: strings.Join(rows, "\n")}, nil
}

type xlsxWorkbook struct {
	Sheets struct {
		Sheet []struct {
			Name string `xml:"name,attr"`
		} `xml:"sheet"`
	} `xml:"sheets"`
}

type xlsxSharedStrings struct {
	Items []struct {
		T    string `xml:"t"`
		Runs []struct {
			T string `xml:"t"`
		} `xml:"r"`
	} `xml:"si"`
}

type xlsxWorksheet struct {
	Rows []struct {
		Cells []struct {
			Type   string `xml:"t,attr"`
			Value  string `xml:"v"`
			Inline struct {
				T string `xml:"t"`
			} `xml:"is"`
		} `xml:"c"`
	} `xml:"sheetData>row"`
}

func extractXlsx(payload []byte) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExtraction, "payload is not a spreadsheet archive", err)
	}

	var sheets []string
	if data, err := readZipFile(zr, "xl/workbook.xml"); err == nil {
		var wb xlsxWorkbook
		if xml.Unmarshal(data, &wb) == nil {
			for _, s := range wb.Sheets.Sheet {
				sheets = append(sheets, s.Name)
			}
		}
	}

	shared := loadSharedStrings(zr)

	var sb strings.Builder
	for i := 1; ; i++ {
		data, err := readZipFile(zr, sheetPath(i))
		if err != nil {
			break
		}
		var ws xlsxWorksheet
		if err := xml.Unmarshal(data, &ws); err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExtraction, "failed to parse worksheet", err)
		}
		for _, row := range ws.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, c := range row.Cells {
				cells = append(cells, cellValue(c.Type, c.Value, c.Inline.T, shared))
			}
			sb.WriteString(strings.Join(cells, "\t"))
			sb.WriteByte('\n')
		}
	}

	text := strings.TrimRight(sb.String(), "\n")
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExtraction, "spreadsheet contains no rows", nil)
	}
	return &Result{Text: text, Meta: Metadata{Sheets: sheets}}, nil
}

func loadSharedStrings(zr *zip.Reader) []string {
	data, err := readZipFile(zr, "xl/sharedStrings.xml")
	if err != nil {
		return nil
	}
	var sst xlsxSharedStrings
	if xml.Unmarshal(data, &sst) != nil {
		return nil
	}
	out := make([]string, 0, len(sst.Items))
	for _, item := range sst.Items {
		if item.T != "" {
			out = append(out, item.T)
			continue
		}
		var sb strings.Builder
		for _, r := range item.Runs {
			sb.WriteString(r.T)
		}
		out = append(out, sb.String())
	}
	return out
}

func cellValue(cellType, value, inline string, shared []string) string {
	switch cellType {
	case "s":
		idx, err := strconv.Atoi(value)
		if err != nil {
			return value
		}
		if idx >= 0 && idx < len(shared) {
			return shared[idx]
		}
		return ""
	case "inlineStr":
		return inline
	default:
		return value
	}
}

func sheetPath(n int) string {
	return fmt.Sprintf("xl/worksheets/sheet%d.xml", n)
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func zipContains(payload []byte, name string) bool {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return false
	}
	_, err = zr.Open(name)
	return err == nil
}
