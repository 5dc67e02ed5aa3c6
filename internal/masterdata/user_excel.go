package masterdata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

type UserImportRowError struct {
	Row   int    `json:"row"`
	Email string `json:"email,omitempty"`
	Error string `json:"error"`
}

type UserImportReport struct {
	TotalRows   int                  `json:"total_rows"`
	SuccessRows int                  `json:"success_rows"`
	FailedRows  int                  `json:"failed_rows"`
	Errors      []UserImportRowError `json:"errors"`
}

// ImportUsersExcel reads an .xlsx sheet with a name/email/language header and
// creates one user per row in the given group. Row failures are collected in
// the report; they do not abort the import.
func (s *Service) ImportUsersExcel(ctx context.Context, groupID int64, r io.Reader) (*UserImportReport, error) {
	if groupID <= 0 {
		return nil, ErrInvalidInput
	}
	if err := s.requireGroup(ctx, groupID); err != nil {
		return nil, err
	}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open excel: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read excel rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrInvalidInput
	}

	col := indexHeader(rows[0])
	if col["name"] < 0 || col["email"] < 0 {
		return nil, fmt.Errorf("%w: header must contain name and email", ErrInvalidInput)
	}

	report := &UserImportReport{Errors: []UserImportRowError{}}
	for i, row := range rows[1:] {
		rowNo := i + 2
		name := cellAt(row, col["name"])
		email := cellAt(row, col["email"])
		language := cellAt(row, col["language"])

		if name == "" && email == "" {
			continue
		}
		report.TotalRows++

		_, err := s.CreateUser(ctx, CreateUserInput{
			GroupID:  groupID,
			Name:     name,
			Email:    email,
			Language: language,
		})
		if err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, UserImportRowError{
				Row:   rowNo,
				Email: email,
				Error: importErrorMessage(err),
			})
			continue
		}
		report.SuccessRows++
	}

	return report, nil
}

func (s *Service) ExportUsersExcel(ctx context.Context, groupID int64) ([]byte, error) {
	items, err := s.ListUsers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	headers := []string{"name", "email", "language", "group_id", "created_at"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, it := range items {
		row := i + 2
		language := ""
		if it.Language != nil {
			language = *it.Language
		}
		values := []any{it.Name, it.Email, language, it.GroupID, it.CreatedAt.Format("2006-01-02 15:04:05")}
		for j, v := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

func indexHeader(header []string) map[string]int {
	col := map[string]int{"name": -1, "email": -1, "language": -1}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, ok := col[key]; ok {
			col[key] = i
		}
	}
	return col
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func importErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "name and a valid email are required"
	case errors.Is(err, ErrEmailTaken):
		return "email already registered"
	default:
		return "internal error"
	}
}
