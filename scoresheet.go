/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/jung-kurt/gofpdf/v2"

	"github.com/Seednode/choicebox/games/choice"
)

const (
	sheetMargin   = 40
	sheetRowH     = 16
	sheetTitle    = 18
	sheetHeading  = 12
	sheetFontSize = 9
)

// renderScoresheet lays out the summary, top cards, player activity and the
// full round history on A4 pages. Avatars are left out; the core fonts cannot
// draw emoji.
func renderScoresheet(gameID string, players []choice.Player, cards []choice.Card, history []choice.Round) ([]byte, error) {
	stats := choice.Compute(players, cards, history)

	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(sheetMargin, sheetMargin, sheetMargin)
	pdf.SetAutoPageBreak(true, sheetMargin)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", sheetTitle)
	pdf.CellFormat(0, 24, tr("Choice game "+gameID), "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", sheetFontSize)
	pdf.CellFormat(0, sheetRowH, fmt.Sprintf("Players: %d   Cards: %d   Rounds: %d   Activity: %d%%",
		stats.Players, stats.Cards, stats.Rounds, stats.Activity), "", 1, "L", false, 0, "")
	pdf.Ln(8)

	heading := func(text string) {
		pdf.SetFont("Helvetica", "B", sheetHeading)
		pdf.CellFormat(0, 20, tr(text), "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", sheetFontSize)
	}

	row := func(widths []float64, cells ...string) {
		for i, cell := range cells {
			pdf.CellFormat(widths[i], sheetRowH, tr(cell), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	heading("Most chosen cards")
	if len(stats.TopCards) == 0 {
		pdf.CellFormat(0, sheetRowH, "No rounds played yet.", "", 1, "L", false, 0, "")
	}
	for i, cc := range stats.TopCards {
		row([]float64{30, 300, 60}, strconv.Itoa(i+1), cc.Title, strconv.Itoa(cc.Count))
	}
	pdf.Ln(8)

	heading("Chosen for")
	for _, pc := range stats.PlayerActivity {
		row([]float64{330, 60}, pc.Name, strconv.Itoa(pc.Count))
	}
	pdf.Ln(8)

	playerName := func(id string) string {
		for _, p := range players {
			if p.ID == id {
				return p.Name
			}
		}
		return ""
	}
	cardTitle := func(id string) string {
		for _, c := range cards {
			if c.ID == id {
				return c.Title
			}
		}
		return ""
	}

	heading("Rounds")
	widths := []float64{95, 85, 85, 125, 125}
	pdf.SetFont("Helvetica", "B", sheetFontSize)
	row(widths, "Time", "Chooser", "For", "Offered", "Chosen")
	pdf.SetFont("Helvetica", "", sheetFontSize)
	for _, r := range history {
		row(widths,
			r.Timestamp.Local().Format(time.DateTime),
			playerName(r.ChooserID),
			playerName(r.TargetID),
			cardTitle(r.CardAID)+" / "+cardTitle(r.CardBID),
			cardTitle(r.SelectedCardID),
		)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func serveScoresheet(cfg *Config, gm *GameManager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		gameID := ps.ByName("gameid")
		hub, ok := gm.lookup(gameID)
		if !ok {
			http.Error(w, "game not found", http.StatusNotFound)
			return
		}

		players, cards, history := hub.snapshot()

		data, err := renderScoresheet(gameID, players, cards, history)
		if err != nil {
			errs <- err
			http.Error(w, "unable to render scoresheet", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `inline; filename="choice-`+gameID+`.pdf"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(cfg, w)

		written, err := w.Write(data)
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Scoresheet (%s) for %s to %s in %s",
			humanReadableSize(int64(written)),
			gameID,
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}
