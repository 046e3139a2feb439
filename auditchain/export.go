package auditchain

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/heirloomvault/custody-backend/interfaces"
)

var csvHeader = []string{
	"seq", "timestamp", "tenantId", "userId", "action",
	"resourceType", "resourceId", "details", "previousHash", "currentHash",
}

// ExportCSV writes the entries matching the filter to w as CSV, oldest
// first. Details maps are embedded as JSON in a single column.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, filter interfaces.AuditFilter) error {
	entries, err := s.Query(ctx, filter)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		details := "{}"
		if len(e.Details) > 0 {
			raw, err := json.Marshal(e.Details)
			if err != nil {
				return fmt.Errorf("failed to encode details for entry %s: %w", e.ID, err)
			}
			details = string(raw)
		}
		record := []string{
			strconv.FormatInt(e.Seq, 10),
			e.Timestamp,
			e.TenantID,
			e.UserID,
			e.Action,
			e.ResourceType,
			e.ResourceID,
			details,
			e.PreviousHash,
			e.CurrentHash,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
