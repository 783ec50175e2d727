package linkpred

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/WessleyAI/rollwin/engine/domain"
	"github.com/WessleyAI/rollwin/engine/gds"
	"github.com/WessleyAI/rollwin/engine/window"
	"github.com/WessleyAI/rollwin/pkg/fn"
	"github.com/WessleyAI/rollwin/pkg/repo"
)

// Pair is a similar-name pair of persons with its string similarity
// features.
type Pair struct {
	Source        string
	Target        string
	LevLastName   float64
	LevPatronymic float64
	CommonSurname float64
}

// Edge is a known relationship between two persons.
type Edge struct {
	Source string
	Target string
}

// Prediction is a scored candidate kept above the threshold.
type Prediction struct {
	Source      string
	Target      string
	Probability float64
	Variant     string
}

// WriteBack tags one window's predictions in the database.
type WriteBack struct {
	Source   string
	WindowID string
	RunID    string
	Rows     []Prediction
}

// Store is the database side of link prediction.
type Store interface {
	SimilarPairs(ctx context.Context, w window.Window) ([]Pair, error)
	KnownEdges(ctx context.Context, w window.Window) ([]Edge, error)
	// DeletePredictions removes every relationship tagged with source and
	// returns how many were removed.
	DeletePredictions(ctx context.Context, source string) (int64, error)
	// InsertPredictions creates the tagged relationships and returns how
	// many were created.
	InsertPredictions(ctx context.Context, wb WriteBack) (int64, error)
}

// CypherStore implements Store with Cypher queries through the graph engine.
type CypherStore struct {
	eng         gds.Engine
	idProperty  string
	personLabel string
	similarType string
	targetType  string
	batchSize   int
	limiter     *rate.Limiter
}

// StoreConfig names the labels, types and pacing a CypherStore uses.
type StoreConfig struct {
	IDProperty      string
	PersonLabel     string
	SimilarRelType  string
	TargetRelType   string
	BatchSize       int
	WritesPerSecond float64
}

// NewCypherStore returns a store over eng.
func NewCypherStore(eng gds.Engine, cfg StoreConfig) *CypherStore {
	limit := rate.Inf
	if cfg.WritesPerSecond > 0 {
		limit = rate.Limit(cfg.WritesPerSecond)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &CypherStore{
		eng:         eng,
		idProperty:  cfg.IDProperty,
		personLabel: sanitizeName(cfg.PersonLabel, "Person"),
		similarType: sanitizeName(cfg.SimilarRelType, "SIM_NAME"),
		targetType:  sanitizeName(cfg.TargetRelType, "FAMILY"),
		batchSize:   cfg.BatchSize,
		limiter:     rate.NewLimiter(limit, 1),
	}
}

func windowParams(w window.Window, idProp string) map[string]any {
	return map[string]any{"start": float64(w.Start), "end": float64(w.End), "idProp": idProp}
}

const validIn = `coalesce(%[1]s.tStart, -1.0e18) < $end AND coalesce(%[1]s.tEnd, 1.0e18) > $start`

func (s *CypherStore) SimilarPairs(ctx context.Context, w window.Window) ([]Pair, error) {
	cypher := fmt.Sprintf(`MATCH (a:%[1]s)-[s:%[2]s]->(b:%[1]s)
WHERE %[3]s AND %[4]s
RETURN toString(a[$idProp]) AS source, toString(b[$idProp]) AS target,
       s.lev_dist_last_name AS lev_last_name,
       s.lev_dist_patronymic AS lev_patronymic,
       s.is_common_surname AS common_surname
ORDER BY source, target`,
		s.personLabel, s.similarType, fmt.Sprintf(validIn, "a"), fmt.Sprintf(validIn, "b"))
	rows, err := s.eng.Query(ctx, cypher, windowParams(w, s.idProperty))
	if err != nil {
		return nil, fmt.Errorf("linkpred: similar pairs: %w", err)
	}
	out := make([]Pair, 0, len(rows))
	for _, r := range rows {
		var p Pair
		if p.Source, p.Target, err = pairIDs(r); err != nil {
			return nil, drift("similar pairs", err)
		}
		if p.LevLastName, err = optFloat(r, "lev_last_name"); err != nil {
			return nil, drift("similar pairs", err)
		}
		if p.LevPatronymic, err = optFloat(r, "lev_patronymic"); err != nil {
			return nil, drift("similar pairs", err)
		}
		if p.CommonSurname, err = optFloat(r, "common_surname"); err != nil {
			return nil, drift("similar pairs", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *CypherStore) KnownEdges(ctx context.Context, w window.Window) ([]Edge, error) {
	cypher := fmt.Sprintf(`MATCH (a:%[1]s)-[f:%[2]s]->(b:%[1]s)
WHERE coalesce(f.imputedFlag, 0.0) = 0.0 AND coalesce(f.source, '') <> 'imputed' AND %[3]s
RETURN toString(a[$idProp]) AS source, toString(b[$idProp]) AS target
ORDER BY source, target`,
		s.personLabel, s.targetType, fmt.Sprintf(validIn, "f"))
	rows, err := s.eng.Query(ctx, cypher, windowParams(w, s.idProperty))
	if err != nil {
		return nil, fmt.Errorf("linkpred: known edges: %w", err)
	}
	out := make([]Edge, 0, len(rows))
	for _, r := range rows {
		src, dst, err := pairIDs(r)
		if err != nil {
			return nil, drift("known edges", err)
		}
		out = append(out, Edge{Source: src, Target: dst})
	}
	return out, nil
}

func (s *CypherStore) DeletePredictions(ctx context.Context, source string) (int64, error) {
	cypher := fmt.Sprintf(`MATCH ()-[r:%s {prediction_source: $source}]->()
WITH r LIMIT $batch
DELETE r
RETURN count(*) AS deleted`, s.targetType)
	var total int64
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return total, err
		}
		rows, err := s.eng.Query(ctx, cypher, map[string]any{"source": source, "batch": int64(s.batchSize)})
		if err != nil {
			return total, fmt.Errorf("linkpred: delete predictions: %w", err)
		}
		if len(rows) == 0 {
			return total, nil
		}
		n, err := repo.Int(rows[0], "deleted")
		if err != nil {
			return total, drift("delete predictions", err)
		}
		total += n
		if n < int64(s.batchSize) {
			return total, nil
		}
	}
}

func (s *CypherStore) InsertPredictions(ctx context.Context, wb WriteBack) (int64, error) {
	cypher := fmt.Sprintf(`UNWIND $rows AS row
MATCH (a:%[1]s) WHERE toString(a[$idProp]) = row.source
MATCH (b:%[1]s) WHERE toString(b[$idProp]) = row.target
CREATE (a)-[r:%[2]s]->(b)
SET r.source = 'imputed',
    r.imputedFlag = 1.0,
    r.prediction_source = $source,
    r.model_variant = row.variant,
    r.window_id = $windowId,
    r.probability = row.probability,
    r.run_id = $runId,
    r.tStart = -1.0e18,
    r.tEnd = 1.0e18
RETURN count(r) AS created`, s.personLabel, s.targetType)

	var total int64
	for _, chunk := range fn.Chunk(wb.Rows, max(1, s.batchSize)) {
		batch := fn.Map(chunk, func(p Prediction) any {
			return map[string]any{
				"source":      p.Source,
				"target":      p.Target,
				"variant":     p.Variant,
				"probability": p.Probability,
			}
		})
		if err := s.limiter.Wait(ctx); err != nil {
			return total, err
		}
		rows, err := s.eng.Query(ctx, cypher, map[string]any{
			"rows":     batch,
			"idProp":   s.idProperty,
			"source":   wb.Source,
			"windowId": wb.WindowID,
			"runId":    wb.RunID,
		})
		if err != nil {
			return total, fmt.Errorf("linkpred: insert predictions: %w", err)
		}
		if len(rows) > 0 {
			n, err := repo.Int(rows[0], "created")
			if err != nil {
				return total, drift("insert predictions", err)
			}
			total += n
		}
	}
	return total, nil
}

func pairIDs(r map[string]any) (string, string, error) {
	src, err := repo.String(r, "source")
	if err != nil {
		return "", "", err
	}
	dst, err := repo.String(r, "target")
	if err != nil {
		return "", "", err
	}
	return src, dst, nil
}

// optFloat treats a missing similarity as no similarity.
func optFloat(r map[string]any, key string) (float64, error) {
	if r[key] == nil {
		return 0, nil
	}
	return repo.Float(r, key)
}

func drift(source string, err error) error {
	return &domain.SchemaDriftError{Source: source, Detail: err.Error()}
}

// sanitizeName keeps only identifier characters of a label or type name.
func sanitizeName(t, fallback string) string {
	safe := make([]byte, 0, len(t))
	for i := range t {
		c := t[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return fallback
	}
	return string(safe)
}
