// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/danielhkuo/votequest/auth"
	"github.com/danielhkuo/votequest/db"
	"github.com/danielhkuo/votequest/models"
	"github.com/danielhkuo/votequest/notify"
)

// BMJStats represents the statistical aggregates for a single option
type BMJStats struct {
	OptionID string
	Label    string
	Votes    int
	Median   float64
	P10      float64
	P90      float64
	Mean     float64
	NegShare float64
	Veto     bool
}

// ComputeRankings ranks a room's options with the room's method.
func ComputeRankings(ctx context.Context, h db.Handler, roomID, method string) ([]models.OptionStats, error) {
	if method == models.MethodBMJ {
		return ComputeBMJRankings(ctx, h, roomID)
	}
	return ComputePluralityRankings(ctx, h, roomID)
}

// ComputePluralityRankings ranks options by the number of ballots that
// selected them. Ties are broken by option ID.
func ComputePluralityRankings(ctx context.Context, h db.Handler, roomID string) ([]models.OptionStats, error) {
	var rows []struct {
		OptionID string `db:"id"`
		Label    string `db:"label"`
		Votes    int    `db:"votes"`
	}
	err := h.SelectContext(ctx, &rows, `
		SELECT o.id, o.label, COUNT(s.ballot_id) AS votes
		FROM room_options o
		LEFT JOIN room_scores s ON s.option_id = o.id AND s.value01 = 1
		WHERE o.room_id = ?
		GROUP BY o.id, o.label
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to count votes: %w", err)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Votes != rows[j].Votes {
			return rows[i].Votes > rows[j].Votes
		}
		return rows[i].OptionID < rows[j].OptionID
	})

	results := make([]models.OptionStats, len(rows))
	for i, row := range rows {
		results[i] = models.OptionStats{
			OptionID: row.OptionID,
			Label:    row.Label,
			Votes:    row.Votes,
			Rank:     i + 1,
		}
	}
	return results, nil
}

// ComputeBMJRankings calculates Balanced Majority Judgment rankings for a room
func ComputeBMJRankings(ctx context.Context, h db.Handler, roomID string) ([]models.OptionStats, error) {
	// Get all options for the room
	optionLabels, err := getOptionLabels(ctx, h, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get option labels: %w", err)
	}

	// Get all scores grouped by option
	optionScores, err := getOptionScores(ctx, h, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get option scores: %w", err)
	}

	// Compute statistics for each option
	stats := make([]BMJStats, 0, len(optionLabels))
	for optionID, label := range optionLabels {
		rawScores := optionScores[optionID]
		if len(rawScores) == 0 {
			stats = append(stats, BMJStats{OptionID: optionID, Label: label})
			continue
		}

		// Convert to signed scores: s = 2*value01 - 1
		signedScores := make([]float64, len(rawScores))
		for i, v := range rawScores {
			signedScores[i] = 2.0*v - 1.0
		}

		// Sort for percentile calculations
		sort.Float64s(signedScores)

		stat := BMJStats{
			OptionID: optionID,
			Label:    label,
			Votes:    len(rawScores),
			Median:   percentile(signedScores, 0.5),
			P10:      percentile(signedScores, 0.1),
			P90:      percentile(signedScores, 0.9),
			Mean:     mean(signedScores),
			NegShare: negativeShare(signedScores),
		}

		// Apply soft veto rule
		stat.Veto = stat.NegShare >= 0.33 && stat.Median <= 0

		stats = append(stats, stat)
	}

	// Sort by BMJ ranking criteria (lexicographic order)
	sort.Slice(stats, func(i, j int) bool {
		a, b := stats[i], stats[j]

		// 1. Non-vetoed options come first
		if a.Veto != b.Veto {
			return !a.Veto
		}

		// 2. Higher median wins
		if a.Median != b.Median {
			return a.Median > b.Median
		}

		// 3. Higher p10 wins (least-misery tiebreaker)
		if a.P10 != b.P10 {
			return a.P10 > b.P10
		}

		// 4. Higher p90 wins (upside tiebreaker)
		if a.P90 != b.P90 {
			return a.P90 > b.P90
		}

		// 5. Higher mean wins
		if a.Mean != b.Mean {
			return a.Mean > b.Mean
		}

		// 6. Stable tie-breaking by option ID (ascending)
		return a.OptionID < b.OptionID
	})

	// Convert to models.OptionStats with ranks
	results := make([]models.OptionStats, len(stats))
	for i, stat := range stats {
		results[i] = models.OptionStats{
			OptionID: stat.OptionID,
			Label:    stat.Label,
			Votes:    stat.Votes,
			Median:   stat.Median,
			P10:      stat.P10,
			P90:      stat.P90,
			Mean:     stat.Mean,
			NegShare: stat.NegShare,
			Veto:     stat.Veto,
			Rank:     i + 1, // 1-indexed ranking
		}
	}

	return results, nil
}

// getOptionLabels retrieves option labels for a room
func getOptionLabels(ctx context.Context, h db.Handler, roomID string) (map[string]string, error) {
	options, err := roomOptions(ctx, h, roomID)
	if err != nil {
		return nil, err
	}

	labels := make(map[string]string, len(options))
	for _, o := range options {
		labels[o.ID] = o.Label
	}
	return labels, nil
}

// getOptionScores retrieves all scores grouped by option
func getOptionScores(ctx context.Context, h db.Handler, roomID string) (map[string][]float64, error) {
	var rows []struct {
		OptionID string  `db:"option_id"`
		Value    float64 `db:"value01"`
	}
	err := h.SelectContext(ctx, &rows, `
		SELECT s.option_id, s.value01
		FROM room_scores s
		JOIN room_ballots b ON s.ballot_id = b.id
		WHERE b.room_id = ?
		ORDER BY s.option_id
	`, roomID)
	if err != nil {
		return nil, err
	}

	scores := make(map[string][]float64)
	for _, row := range rows {
		scores[row.OptionID] = append(scores[row.OptionID], row.Value)
	}
	return scores, nil
}

// percentile calculates the p-th percentile of sorted data
// p should be in range [0, 1]
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0.0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	// Linear interpolation between closest ranks
	rank := p * float64(len(sorted)-1)
	lower := int(rank)
	upper := lower + 1

	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	// Interpolate
	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// mean calculates the arithmetic mean
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// negativeShare calculates the fraction of negative scores
func negativeShare(signedScores []float64) float64 {
	if len(signedScores) == 0 {
		return 0.0
	}

	negCount := 0
	for _, s := range signedScores {
		if s < 0 {
			negCount++
		}
	}
	return float64(negCount) / float64(len(signedScores))
}

// computeInputsHash returns the SHA-256 of the room's sorted ballot IDs and
// the ballot count.
func computeInputsHash(ctx context.Context, h db.Handler, roomID string) (string, int, error) {
	var ballotIDs []string
	err := h.SelectContext(ctx, &ballotIDs, `SELECT id FROM room_ballots WHERE room_id = ? ORDER BY id`, roomID)
	if err != nil {
		return "", 0, err
	}

	sum := sha256.Sum256([]byte(strings.Join(ballotIDs, "\n")))
	return hex.EncodeToString(sum[:]), len(ballotIDs), nil
}

// snapshotPayload is the JSON stored in result_snapshots.payload.
type snapshotPayload struct {
	BallotCount int                  `json:"ballot_count"`
	Rankings    []models.OptionStats `json:"rankings"`
	InputsHash  string               `json:"inputs_hash"`
}

// CloseRoom closes an active room: it computes the final rankings, stores
// them as a snapshot and notifies everyone who voted.
func CloseRoom(ctx context.Context, h db.Handler, room models.VotingRoom, now time.Time) (models.ResultSnapshot, error) {
	rankings, err := ComputeRankings(ctx, h, room.ID, room.Method)
	if err != nil {
		return models.ResultSnapshot{}, err
	}
	inputsHash, count, err := computeInputsHash(ctx, h, room.ID)
	if err != nil {
		return models.ResultSnapshot{}, fmt.Errorf("failed to hash ballots: %w", err)
	}

	snapshotID, err := auth.GenerateID(16)
	if err != nil {
		return models.ResultSnapshot{}, err
	}

	snapshot := models.ResultSnapshot{
		ID:          snapshotID,
		RoomID:      room.ID,
		Method:      room.Method,
		ComputedAt:  now.UTC(),
		BallotCount: count,
		Rankings:    rankings,
		InputsHash:  inputsHash,
	}

	payload, err := json.Marshal(snapshotPayload{
		BallotCount: count,
		Rankings:    rankings,
		InputsHash:  inputsHash,
	})
	if err != nil {
		return models.ResultSnapshot{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	res, err := h.ExecContext(ctx, `
		UPDATE voting_rooms
		SET status = ?, closed_at = ?, final_snapshot_id = ?
		WHERE id = ? AND status = ?
	`, models.RoomClosed, snapshot.ComputedAt, snapshotID, room.ID, models.RoomActive)
	if err != nil {
		return models.ResultSnapshot{}, fmt.Errorf("failed to close room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ResultSnapshot{}, fail(http.StatusConflict, "Room is not active")
	}

	_, err = h.ExecContext(ctx, `
		INSERT INTO result_snapshots (id, room_id, method, computed_at, payload)
		VALUES (?, ?, ?, ?, ?)
	`, snapshotID, room.ID, room.Method, snapshot.ComputedAt, string(payload))
	if err != nil {
		return models.ResultSnapshot{}, fmt.Errorf("failed to save snapshot: %w", err)
	}

	var voters []string
	if err := h.SelectContext(ctx, &voters, `SELECT user_id FROM room_ballots WHERE room_id = ?`, room.ID); err != nil {
		return models.ResultSnapshot{}, fmt.Errorf("failed to list voters: %w", err)
	}
	body := "Results are available."
	if len(rankings) > 0 {
		body = fmt.Sprintf("Winner: %s. Full results are available.", rankings[0].Label)
	}
	for _, voter := range voters {
		if _, err := notify.Create(ctx, h, voter, notify.KindRoomClosed, "Voting closed: "+room.Title, body); err != nil {
			return models.ResultSnapshot{}, err
		}
	}

	return snapshot, nil
}

// CloseExpiredRoom closes roomID if it is still active and its end time has
// passed. It reports whether the room was closed.
func CloseExpiredRoom(ctx context.Context, h db.Handler, roomID string, now time.Time) (bool, error) {
	room, err := getRoom(ctx, h, roomID)
	if err != nil {
		return false, err
	}
	if room.Status != models.RoomActive || room.EndsAt == nil || room.EndsAt.After(now) {
		return false, nil
	}
	if _, err := CloseRoom(ctx, h, room, now); err != nil {
		return false, err
	}
	return true, nil
}
