package linkpred

import (
	"github.com/WessleyAI/rollwin/engine/snapshot"
)

// Prediction file columns besides the endpoints and window metadata.
const (
	ColProbability = "probability"
	ColVariant     = "model_variant"
	ColSource      = "prediction_source"
)

// PredictionFields returns the predictions file layout for edge ids stored
// under idProp.
func PredictionFields(idProp string) []snapshot.Field {
	fields := []snapshot.Field{
		{Name: "source_" + idProp, Kind: snapshot.String},
		{Name: "target_" + idProp, Kind: snapshot.String},
		{Name: ColProbability, Kind: snapshot.Float64},
		{Name: ColVariant, Kind: snapshot.String},
		{Name: ColSource, Kind: snapshot.String},
	}
	return append(fields, snapshot.MetaFields()...)
}

// PredictionColumns is the column set a predictions file must have to be
// reused.
func PredictionColumns(idProp string) []string {
	return snapshot.NewFrame(PredictionFields(idProp)...).Names()
}

// Frame renders res. A nil res gives an empty frame.
func Frame(res *Result, idProp string, meta snapshot.Meta) (*snapshot.Frame, error) {
	f := snapshot.NewFrame(PredictionFields(idProp)...)
	if res == nil {
		return f, nil
	}
	mc := meta.Cells()
	for _, p := range res.Predictions {
		cells := append([]any{p.Source, p.Target, p.Probability, p.Variant, SourceTag(res.WindowID)}, mc...)
		if err := f.Append(cells...); err != nil {
			return nil, err
		}
	}
	return f, nil
}
