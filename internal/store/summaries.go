package store

import (
	"fmt"

	goduckdb "github.com/marcboeker/go-duckdb"

	"github.com/inodb/vibe-attn/internal/analysis"
)

// WriteVariantSummaries appends per-variant perturbation summaries.
func (s *Store) WriteVariantSummaries(summaries []analysis.VariantSummary) error {
	if len(summaries) == 0 {
		return nil
	}
	return s.appendRows(TableVariantSummaries, func(a *goduckdb.Appender) error {
		for _, v := range summaries {
			if err := a.AppendRow(v.Key.Chrom, v.Key.Pos, v.Key.Ref, v.Key.Alt, v.Contrast,
				v.Significance, v.FunctionalClass,
				v.TotalMass, v.Centrality, int64(v.DecayLength), v.MeanDistance, v.DecayCorr); err != nil {
				return fmt.Errorf("append variant summary %s: %w", v.Key, err)
			}
		}
		return nil
	})
}

// ReadVariantSummaries returns every variant summary ordered by key and
// contrast.
func (s *Store) ReadVariantSummaries() ([]analysis.VariantSummary, error) {
	rows, err := s.db.Query(`SELECT chrom, pos, ref, alt, contrast, significance, functional_class,
			total_mass, centrality, decay_length, mean_distance, decay_corr
		FROM variant_summaries
		ORDER BY chrom, pos, ref, alt, contrast`)
	if err != nil {
		return nil, fmt.Errorf("query variant summaries: %w", err)
	}
	defer rows.Close()

	var out []analysis.VariantSummary
	for rows.Next() {
		var v analysis.VariantSummary
		var decay int64
		if err := rows.Scan(&v.Key.Chrom, &v.Key.Pos, &v.Key.Ref, &v.Key.Alt, &v.Contrast,
			&v.Significance, &v.FunctionalClass,
			&v.TotalMass, &v.Centrality, &decay, &v.MeanDistance, &v.DecayCorr); err != nil {
			return nil, fmt.Errorf("scan variant summary: %w", err)
		}
		v.DecayLength = int(decay)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variant summaries: %w", err)
	}
	return out, nil
}

// WriteLayerSummaries appends per-layer perturbation summaries.
func (s *Store) WriteLayerSummaries(summaries []analysis.LayerSummary) error {
	if len(summaries) == 0 {
		return nil
	}
	return s.appendRows(TableLayerSummaries, func(a *goduckdb.Appender) error {
		for _, l := range summaries {
			if err := a.AppendRow(l.Key.Chrom, l.Key.Pos, l.Key.Ref, l.Key.Alt, l.Contrast, int64(l.Layer),
				l.TotalMass, l.Centrality, int64(l.DecayLength), l.MeanDistance, l.DecayCorr); err != nil {
				return fmt.Errorf("append layer summary %s: %w", l.Key, err)
			}
		}
		return nil
	})
}

// LayerPoint is the mean centrality of one layer within a significance class.
type LayerPoint struct {
	Significance   string
	Layer          int
	MeanCentrality float64
	N              int
}

// CentralityByLayer averages layer centrality per significance class for
// one contrast.
func (s *Store) CentralityByLayer(contrast string) ([]LayerPoint, error) {
	rows, err := s.db.Query(`SELECT v.significance, l.layer, avg(l.centrality), count(*)
		FROM layer_summaries l
		JOIN variant_summaries v
			ON v.chrom = l.chrom AND v.pos = l.pos AND v.ref = l.ref AND v.alt = l.alt AND v.contrast = l.contrast
		WHERE l.contrast = ?
		GROUP BY v.significance, l.layer
		ORDER BY v.significance, l.layer`, contrast)
	if err != nil {
		return nil, fmt.Errorf("query centrality by layer: %w", err)
	}
	defer rows.Close()

	var out []LayerPoint
	for rows.Next() {
		var p LayerPoint
		var layer, n int64
		if err := rows.Scan(&p.Significance, &layer, &p.MeanCentrality, &n); err != nil {
			return nil, fmt.Errorf("scan layer point: %w", err)
		}
		p.Layer, p.N = int(layer), int(n)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate layer points: %w", err)
	}
	return out, nil
}

// ProfilePoint is the mean delta magnitude at one token distance within a
// significance class.
type ProfilePoint struct {
	Significance string
	Distance     int
	MeanAbsDelta float64
}

// DistanceProfile averages delta magnitude by token distance for each
// significance class, over variants that reached the summary table.
// Magnitude per position is first averaged over layers and heads.
func (s *Store) DistanceProfile(contrast string, maxDistance int) ([]ProfilePoint, error) {
	rows, err := s.db.Query(`WITH mags AS (
			SELECT chrom, pos, ref, alt, position, distance, avg(abs_delta) AS mag
			FROM attention_deltas
			WHERE contrast = ? AND distance >= 0 AND distance <= ?
			GROUP BY chrom, pos, ref, alt, position, distance
		)
		SELECT v.significance, m.distance, avg(m.mag)
		FROM mags m
		JOIN variant_summaries v
			ON v.chrom = m.chrom AND v.pos = m.pos AND v.ref = m.ref AND v.alt = m.alt
		WHERE v.contrast = ?
		GROUP BY v.significance, m.distance
		ORDER BY v.significance, m.distance`, contrast, int64(maxDistance), contrast)
	if err != nil {
		return nil, fmt.Errorf("query distance profile: %w", err)
	}
	defer rows.Close()

	var out []ProfilePoint
	for rows.Next() {
		var p ProfilePoint
		var dist int64
		if err := rows.Scan(&p.Significance, &dist, &p.MeanAbsDelta); err != nil {
			return nil, fmt.Errorf("scan profile point: %w", err)
		}
		p.Distance = int(dist)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profile points: %w", err)
	}
	return out, nil
}
