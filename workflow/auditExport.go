package workflow

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"github.com/xuri/excelize/v2"
)

const excelContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportAuditReport runs the entity audit and renders the violations as an
// xlsx workbook. Returns the raw workbook bytes; callers decide whether to
// save locally, stream over HTTP, or upload.
func ExportAuditReport(ctx context.Context, businessId string) ([]byte, []models.EntityAuditIssue, error) {
	issues, err := models.ValidateAllEntities(ctx, businessId)
	if err != nil {
		return nil, nil, err
	}

	f := excelize.NewFile()
	sheet := "Sheet1"
	if _, err := f.NewSheet(sheet); err != nil {
		return nil, nil, err
	}

	// Add headers
	f.SetCellValue(sheet, "A1", "DealId")
	f.SetCellValue(sheet, "B1", "Issue")
	f.SetCellValue(sheet, "C1", "CompanyId")
	f.SetCellValue(sheet, "D1", "ContactId")
	f.SetCellValue(sheet, "E1", "ContactCompanyId")

	// Add data
	for i, issue := range issues {
		row := fmt.Sprint(i + 2)
		f.SetCellValue(sheet, "A"+row, issue.DealId)
		f.SetCellValue(sheet, "B"+row, string(issue.Issue))
		f.SetCellValue(sheet, "C"+row, utils.DereferencePtr(issue.CompanyId))
		f.SetCellValue(sheet, "D"+row, utils.DereferencePtr(issue.ContactId))
		f.SetCellValue(sheet, "E"+row, utils.DereferencePtr(issue.ContactCompanyId))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), issues, nil
}

// ExportAuditReportToFile writes the workbook to a local path.
func ExportAuditReportToFile(ctx context.Context, businessId string, path string) ([]models.EntityAuditIssue, error) {
	data, issues, err := ExportAuditReport(ctx, businessId)
	if err != nil {
		return nil, err
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return nil, err
	}
	return issues, nil
}

// UploadAuditReportToGCS runs the export and drops the workbook into the
// configured bucket under audit-reports/. Returns the object name.
func UploadAuditReportToGCS(ctx context.Context, businessId string) (string, []models.EntityAuditIssue, error) {
	data, issues, err := ExportAuditReport(ctx, businessId)
	if err != nil {
		return "", nil, err
	}
	objectName := fmt.Sprintf("audit-reports/%s/entity-audit-%s.xlsx",
		businessId, time.Now().UTC().Format("20060102-150405"))
	if err := utils.UploadBytesToGCS(ctx, objectName, data, excelContentType); err != nil {
		return "", nil, err
	}
	return objectName, issues, nil
}
