package sheets

import (
	"context"
	"fmt"
	"strings"

	sheetsv4 "google.golang.org/api/sheets/v4"

	"activist-bot/internal/engine"
	"activist-bot/internal/models"
)

const SheetLeaderboard = "Leaderboard"

// RosterSheet names the tab that holds a project's member list.
func RosterSheet(ref models.ProjectRef) string {
	return fmt.Sprintf("Roster %s %s", ref.Category, ref.ID)
}

// ExportLeaderboard replaces the Leaderboard tab with the given ranking.
func (c *Client) ExportLeaderboard(ctx context.Context, entries []engine.RankEntry) error {
	return c.replace(ctx, SheetLeaderboard, LeaderboardRows(entries))
}

// ExportRoster replaces the project's roster tab, creating it when missing.
func (c *Client) ExportRoster(ctx context.Context, ref models.ProjectRef, p *models.Project, rows []engine.RosterRow) error {
	return c.replace(ctx, RosterSheet(ref), RosterRows(p, rows))
}

func (c *Client) replace(ctx context.Context, sheet string, values [][]interface{}) error {
	if err := c.ensureSheet(ctx, sheet); err != nil {
		return fmt.Errorf("sheet %s: %w", sheet, err)
	}
	rng := a1(sheet, "A:Z")
	if _, err := c.srv.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &sheetsv4.ClearValuesRequest{}).
		Context(ctx).
		Do(); err != nil {
		return fmt.Errorf("clear %s: %w", sheet, err)
	}
	vr := &sheetsv4.ValueRange{Values: values}
	if _, err := c.srv.Spreadsheets.Values.Update(c.spreadsheetID, a1(sheet, "A1"), vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do(); err != nil {
		return fmt.Errorf("write %s: %w", sheet, err)
	}
	return nil
}

func (c *Client) ensureSheet(ctx context.Context, sheet string) error {
	ss, err := c.srv.Spreadsheets.Get(c.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return err
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == sheet {
			return nil
		}
	}
	req := &sheetsv4.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsv4.Request{{
			AddSheet: &sheetsv4.AddSheetRequest{
				Properties: &sheetsv4.SheetProperties{Title: sheet},
			},
		}},
	}
	_, err = c.srv.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do()
	return err
}

// a1 quotes the sheet name so titles with spaces stay addressable.
func a1(sheet, cells string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + cells
}
