package results

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
)

// MergedReportName is the file name of the suite level report.
const MergedReportName = "results.xml"

var errMalformedFirstReport = errors.New("error while parsing first test result")

// MergeResultFiles combines the per test case reports of one suite run into
// <resultsDir>/results.xml. The cases are nested in a synthesized suite level
// test whose prolog comes from the first case and whose epilog carries the
// last epilog time found. Reports that cannot be read are skipped.
func MergeResultFiles(logger log.Logger, reportFiles []string, resultsDir string, suiteName string) error {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	dest := filepath.Join(resultsDir, MergedReportName)
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("could not merge results into %s: file already exists", dest)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("could not merge results into %s: %w", dest, err)
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("could not open %s for writing: %w", dest, err)
	}

	m := &merger{log: logger, enc: xml.NewEncoder(out), suiteName: suiteName, firstReport: true, firstTest: true}
	m.enc.Indent("", "    ")
	err = m.run(reportFiles)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close %s: %w", dest, closeErr)
	}
	if err != nil {
		_ = os.Remove(dest)
		return err
	}
	logger.Info("Merged result reports", "file", dest, "reports", len(reportFiles))
	return nil
}

type merger struct {
	log         log.Logger
	enc         *xml.Encoder
	suiteName   string
	firstReport bool
	firstTest   bool
	lastEpilog  string
}

func (m *merger) run(reportFiles []string) error {
	header := xml.ProcInst{Target: "xml", Inst: []byte(`version="1.0" encoding="UTF-8"`)}
	if err := m.enc.EncodeToken(header); err != nil {
		return err
	}
	for i, path := range reportFiles {
		f, err := os.Open(path)
		if err != nil {
			m.log.Warn("Skipping unreadable result report", "file", path, "error", err)
			continue
		}
		err = m.copyReport(f, i == 0)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("failed to merge %s: %w", path, err)
		}
	}
	if m.firstReport {
		if err := m.openSuite(nil); err != nil {
			return err
		}
	}

	epilog := xml.StartElement{Name: xml.Name{Local: "epilog"}}
	if m.lastEpilog != "" {
		epilog.Attr = []xml.Attr{{Name: xml.Name{Local: "time"}, Value: m.lastEpilog}}
	}
	for _, tok := range []xml.Token{
		epilog, epilog.End(),
		xml.EndElement{Name: xml.Name{Local: "test"}},
		xml.EndElement{Name: xml.Name{Local: "SquishReport"}},
	} {
		if err := m.enc.EncodeToken(tok); err != nil {
			return err
		}
	}
	return m.enc.Flush()
}

func (m *merger) openSuite(attrs []xml.Attr) error {
	m.firstReport = false
	report := xml.StartElement{Name: xml.Name{Local: "SquishReport"}, Attr: attrs}
	suite := xml.StartElement{
		Name: xml.Name{Local: "test"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "name"}, Value: m.suiteName}},
	}
	if err := m.enc.EncodeToken(report); err != nil {
		return err
	}
	return m.enc.EncodeToken(suite)
}

// copyReport streams one report into the merged document. Elements left open
// by a truncated report are closed so the output stays well formed.
func (m *merger) copyReport(r io.Reader, first bool) error {
	dec := xml.NewDecoder(r)
	var open []xml.Name
	defer func() {
		for i := len(open) - 1; i >= 0; i-- {
			_ = m.enc.EncodeToken(xml.EndElement{Name: open[i]})
		}
	}()

	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			if first && m.firstReport {
				return fmt.Errorf("%w: no SquishReport element", errMalformedFirstReport)
			}
			return nil
		}
		if err != nil {
			if first && m.firstTest {
				return fmt.Errorf("%w: %v", errMalformedFirstReport, err)
			}
			m.log.Warn("Result report ended unexpectedly", "error", err)
			return nil
		}

		switch t := tok.(type) {
		case xml.StartElement:
			t = plainElement(t)
			switch {
			case t.Name.Local == "SquishReport":
				if m.firstReport {
					if err := m.openSuite(t.Attr); err != nil {
						return err
					}
				}
				continue
			case m.firstReport:
				return fmt.Errorf("%w: expected SquishReport, found %s", errMalformedFirstReport, t.Name.Local)
			case t.Name.Local == "test" && m.firstTest:
				if err := m.openFirstTest(dec, t); err != nil {
					return err
				}
				open = append(open, t.Name, xml.Name{Local: "prolog"})
				continue
			case t.Name.Local == "epilog":
				if ts := attrValue(t.Attr, "time"); ts != "" {
					m.lastEpilog = ts
				}
			}
			if err := m.enc.EncodeToken(t); err != nil {
				return err
			}
			open = append(open, t.Name)
		case xml.EndElement:
			if t.Name.Local == "SquishReport" {
				continue
			}
			if len(open) == 0 {
				continue
			}
			open = open[:len(open)-1]
			if err := m.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: t.Name.Local}}); err != nil {
				return err
			}
		case xml.CharData:
			if m.firstReport || len(bytes.TrimSpace(t)) == 0 {
				continue
			}
			if err := m.enc.EncodeToken(t.Copy()); err != nil {
				return err
			}
		case xml.Comment:
			if err := m.enc.EncodeToken(t.Copy()); err != nil {
				return err
			}
		}
	}
}

// openFirstTest writes the suite prolog taken from the first test case and
// then opens that test case with its own prolog.
func (m *merger) openFirstTest(dec *xml.Decoder, test xml.StartElement) error {
	m.firstTest = false
	var prolog xml.StartElement
	for {
		tok, err := dec.RawToken()
		if err != nil {
			return fmt.Errorf("%w: %v", errMalformedFirstReport, err)
		}
		if cd, ok := tok.(xml.CharData); ok && len(bytes.TrimSpace(cd)) == 0 {
			continue
		}
		if _, ok := tok.(xml.Comment); ok {
			continue
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "prolog" {
			return fmt.Errorf("%w: test is not followed by a prolog", errMalformedFirstReport)
		}
		prolog = plainElement(start)
		break
	}

	for _, tok := range []xml.Token{
		xml.StartElement{Name: prolog.Name, Attr: prolog.Attr}, prolog.End(),
		test, prolog,
	} {
		if err := m.enc.EncodeToken(tok); err != nil {
			return err
		}
	}
	return nil
}

// plainElement drops namespace prefixes and declarations, which the encoder
// cannot round-trip from raw tokens.
func plainElement(el xml.StartElement) xml.StartElement {
	out := xml.StartElement{Name: xml.Name{Local: el.Name.Local}}
	for _, a := range el.Attr {
		if a.Name.Space != "" || a.Name.Local == "xmlns" {
			continue
		}
		out.Attr = append(out.Attr, xml.Attr{Name: xml.Name{Local: a.Name.Local}, Value: a.Value})
	}
	return out
}

func attrValue(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
