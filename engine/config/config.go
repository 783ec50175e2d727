// Package config holds the run configuration: defaults, YAML loading,
// validation, engine credentials and the configuration fingerprint.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/rollwin/engine/domain"
)

// Config is the complete set of options for one run. Fields tagged json:"-"
// do not change what a run produces and are left out of the fingerprint.
type Config struct {
	BaseGraphName      string   `yaml:"base_graph_name" json:"base_graph_name" validate:"required"`
	NodeLabels         []string `yaml:"node_labels" json:"node_labels" validate:"required,min=1,dive,required"`
	RelTypes           []string `yaml:"rel_types" json:"rel_types" validate:"required,min=1,dive,required"`
	ImputedRelType     string   `yaml:"imputed_rel_type" json:"imputed_rel_type" validate:"required"`
	IncludeImputed     bool     `yaml:"include_imputed" json:"include_imputed"`
	AlwaysRetainLabels []string `yaml:"always_retain_labels" json:"always_retain_labels"`
	IDProperty         string   `yaml:"id_property" json:"id_property" validate:"required"`
	EdgeIDProperty     string   `yaml:"edge_id_property" json:"edge_id_property" validate:"required"`
	ReadConcurrency    int      `yaml:"read_concurrency" json:"read_concurrency" validate:"min=1"`

	Window         WindowConfig         `yaml:"window" json:"window"`
	Algorithms     AlgorithmsConfig     `yaml:"algorithms" json:"algorithms"`
	Export         ExportConfig         `yaml:"export" json:"export"`
	LinkPrediction LinkPredictionConfig `yaml:"link_prediction" json:"link_prediction"`

	SkipExisting bool          `yaml:"skip_existing" json:"-"`
	// MaxRetries counts every attempt of a window, the first included.
	MaxRetries   int           `yaml:"max_retries" json:"-" validate:"min=1"`
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"-" validate:"min=0"`
	OutputDir    string        `yaml:"output_dir" json:"-" validate:"required"`
	RunName      string        `yaml:"run_name" json:"-"`

	Engine EngineConfig `yaml:"engine" json:"-"`
	Sinks  SinksConfig  `yaml:"sinks" json:"-"`
}

// WindowConfig is the window geometry.
type WindowConfig struct {
	StartYear    int    `yaml:"start_year" json:"start_year" validate:"min=1"`
	EndStartYear int    `yaml:"end_start_year" json:"end_start_year" validate:"min=1"`
	Size         int    `yaml:"size" json:"size"`
	Step         int    `yaml:"step" json:"step"`
	Granularity  string `yaml:"granularity" json:"granularity"`
}

// Toggle enables an algorithm that takes no hyperparameters.
type Toggle struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type PageRankConfig struct {
	Enabled       bool    `yaml:"enabled" json:"enabled"`
	MaxIterations int     `yaml:"max_iterations" json:"max_iterations" validate:"min=1"`
	Damping       float64 `yaml:"damping" json:"damping" validate:"gt=0,lt=1"`
}

type EigenvectorConfig struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	MaxIterations int  `yaml:"max_iterations" json:"max_iterations" validate:"min=1"`
}

type LouvainConfig struct {
	Enabled                        bool `yaml:"enabled" json:"enabled"`
	MaxIterations                  int  `yaml:"max_iterations" json:"max_iterations" validate:"min=1"`
	IncludeIntermediateCommunities bool `yaml:"include_intermediate_communities" json:"include_intermediate_communities"`
}

type FastRPConfig struct {
	Enabled           bool      `yaml:"enabled" json:"enabled"`
	Dimension         int       `yaml:"dimension" json:"dimension" validate:"min=1"`
	IterationWeights  []float64 `yaml:"iteration_weights" json:"iteration_weights"`
	NodeSelfInfluence float64   `yaml:"node_self_influence" json:"node_self_influence"`
	Seed              int64     `yaml:"seed" json:"seed"`
}

type HashGNNConfig struct {
	Enabled           bool     `yaml:"enabled" json:"enabled"`
	FeatureProperties []string `yaml:"feature_properties" json:"feature_properties"`
	Iterations        int      `yaml:"iterations" json:"iterations" validate:"min=1"`
	OutputDimension   int      `yaml:"output_dimension" json:"output_dimension" validate:"min=1"`
	EmbeddingDensity  int      `yaml:"embedding_density" json:"embedding_density" validate:"min=1"`
	BinarizeDimension int      `yaml:"binarize_dimension" json:"binarize_dimension" validate:"min=1"`
	BinarizeThreshold float64  `yaml:"binarize_threshold" json:"binarize_threshold"`
	Seed              int64    `yaml:"seed" json:"seed"`
}

type Node2VecConfig struct {
	Enabled    bool  `yaml:"enabled" json:"enabled"`
	Dimension  int   `yaml:"dimension" json:"dimension" validate:"min=1"`
	Iterations int   `yaml:"iterations" json:"iterations" validate:"min=1"`
	Seed       int64 `yaml:"seed" json:"seed"`
}

// AlgorithmsConfig enables and parameterises each algorithm. The run order is
// fixed by engine/algo, not by field order here.
type AlgorithmsConfig struct {
	WeightProperty string            `yaml:"weight_property" json:"weight_property" validate:"required"`
	PageRank       PageRankConfig    `yaml:"page_rank" json:"page_rank"`
	InDegree       Toggle            `yaml:"in_degree" json:"in_degree"`
	OutDegree      Toggle            `yaml:"out_degree" json:"out_degree"`
	Betweenness    Toggle            `yaml:"betweenness" json:"betweenness"`
	Closeness      Toggle            `yaml:"closeness" json:"closeness"`
	Eigenvector    EigenvectorConfig `yaml:"eigenvector" json:"eigenvector"`
	WCC            Toggle            `yaml:"wcc" json:"wcc"`
	Louvain        LouvainConfig     `yaml:"louvain" json:"louvain"`
	FastRP         FastRPConfig      `yaml:"fastrp" json:"fastrp"`
	HashGNN        HashGNNConfig     `yaml:"hashgnn" json:"hashgnn"`
	Node2Vec       Node2VecConfig    `yaml:"node2vec" json:"node2vec"`
}

// Block is one named feature group of the feature vector.
type Block struct {
	Name    string `yaml:"name" json:"name" validate:"required"`
	Indices []int  `yaml:"indices" json:"indices" validate:"required,min=1"`
}

type ExportConfig struct {
	Edges            bool     `yaml:"edges" json:"edges"`
	FeatureVectors   bool     `yaml:"feature_vectors" json:"feature_vectors"`
	FeatureBlocks    bool     `yaml:"feature_blocks" json:"feature_blocks"`
	ExpandEmbeddings bool     `yaml:"expand_embeddings" json:"expand_embeddings"`
	FeatureProperty  string   `yaml:"feature_property" json:"feature_property" validate:"required"`
	FeatureDimension int      `yaml:"feature_dimension" json:"feature_dimension" validate:"min=1"`
	ExtraProperties  []string `yaml:"extra_properties" json:"extra_properties"`
	RemainderBlock   string   `yaml:"remainder_block" json:"remainder_block" validate:"required"`
	Blocks           []Block  `yaml:"blocks" json:"blocks" validate:"dive"`
}

type LinkPredictionConfig struct {
	Enabled             bool    `yaml:"enabled" json:"enabled"`
	Threshold           float64 `yaml:"threshold" json:"threshold" validate:"min=0,max=1"`
	NegativeRatio       float64 `yaml:"negative_ratio" json:"negative_ratio" validate:"gt=0"`
	MinTrainingSamples  int     `yaml:"min_training_samples" json:"min_training_samples" validate:"min=2"`
	TestSplit           float64 `yaml:"test_split" json:"test_split" validate:"gt=0,lt=1"`
	RandomSeed          int64   `yaml:"random_seed" json:"random_seed"`
	FBeta               float64 `yaml:"f_beta" json:"f_beta" validate:"gt=0"`
	L2                  float64 `yaml:"l2" json:"l2" validate:"min=0"`
	PersonLabel         string  `yaml:"person_label" json:"person_label" validate:"required"`
	SimilarRelType      string  `yaml:"similar_rel_type" json:"similar_rel_type" validate:"required"`
	BatchSize           int     `yaml:"batch_size" json:"-" validate:"min=1"`
	WritesPerSecond     float64 `yaml:"writes_per_second" json:"-" validate:"min=0"`
	MaxParallelVariants int     `yaml:"max_parallel_variants" json:"-" validate:"min=1"`
}

// EngineConfig holds connection parameters. Credentials normally come from
// the environment, see LoadEnv.
type EngineConfig struct {
	URI                          string        `yaml:"uri"`
	User                         string        `yaml:"user"`
	Password                     string        `yaml:"password"`
	Database                     string        `yaml:"database"`
	MaxConnectionLifetime        time.Duration `yaml:"max_connection_lifetime"`
	MaxConnectionPoolSize        int           `yaml:"max_connection_pool_size"`
	ConnectionAcquisitionTimeout time.Duration `yaml:"connection_acquisition_timeout"`
	CallsPerSecond               float64       `yaml:"calls_per_second"`
}

// SinksConfig wires optional side outputs. Empty values disable a sink.
type SinksConfig struct {
	NATSURL          string `yaml:"nats_url"`
	NATSSubject      string `yaml:"nats_subject"`
	QdrantAddr       string `yaml:"qdrant_addr"`
	QdrantCollection string `yaml:"qdrant_collection"`
	S3Bucket         string `yaml:"s3_bucket"`
	S3Prefix         string `yaml:"s3_prefix"`
	S3Region         string `yaml:"s3_region"`
	S3Endpoint       string `yaml:"s3_endpoint"`
	MetricsAddr      string `yaml:"metrics_addr"`
}

// Default returns the configuration a run uses when nothing overrides it.
func Default() Config {
	return Config{
		BaseGraphName:      "base_temporal",
		NodeLabels:         []string{"Bank", "Company", "Person"},
		RelTypes:           []string{"OWNERSHIP", "MANAGEMENT", "FAMILY"},
		ImputedRelType:     "FAMILY",
		AlwaysRetainLabels: []string{"Bank", "Company"},
		IDProperty:         "Id",
		EdgeIDProperty:     "Id",
		ReadConcurrency:    4,
		Window: WindowConfig{
			StartYear:    2000,
			EndStartYear: 2010,
			Size:         3,
			Step:         1,
			Granularity:  "yearly",
		},
		Algorithms: AlgorithmsConfig{
			WeightProperty: "weight",
			PageRank:       PageRankConfig{Enabled: true, MaxIterations: 20, Damping: 0.85},
			InDegree:       Toggle{Enabled: true},
			OutDegree:      Toggle{Enabled: true},
			Betweenness:    Toggle{Enabled: true},
			Closeness:      Toggle{Enabled: true},
			Eigenvector:    EigenvectorConfig{Enabled: true, MaxIterations: 20},
			WCC:            Toggle{Enabled: true},
			Louvain:        LouvainConfig{Enabled: true, MaxIterations: 20, IncludeIntermediateCommunities: true},
			FastRP: FastRPConfig{
				Enabled:           true,
				Dimension:         128,
				IterationWeights:  []float64{0.2, 0.2, 0.2, 0.2, 0.2},
				NodeSelfInfluence: 0.7,
				Seed:              42,
			},
			HashGNN: HashGNNConfig{
				FeatureProperties: []string{"bank_feats"},
				Iterations:        5,
				OutputDimension:   256,
				EmbeddingDensity:  128,
				BinarizeDimension: 77,
				BinarizeThreshold: 0.01,
				Seed:              42,
			},
			Node2Vec: Node2VecConfig{Dimension: 256, Iterations: 20, Seed: 42},
		},
		Export: ExportConfig{
			Edges:            true,
			FeatureVectors:   true,
			FeatureBlocks:    true,
			FeatureProperty:  "bank_feats",
			FeatureDimension: 60,
			ExtraProperties:  []string{"network_feats", "is_dead"},
			RemainderBlock:   "other_feats",
			Blocks:           DefaultBlocks(),
		},
		LinkPrediction: LinkPredictionConfig{
			Threshold:           0.7,
			NegativeRatio:       1.0,
			MinTrainingSamples:  100,
			TestSplit:           0.2,
			RandomSeed:          42,
			FBeta:               1.0,
			L2:                  1e-3,
			PersonLabel:         "Person",
			SimilarRelType:      "SIM_NAME",
			BatchSize:           500,
			WritesPerSecond:     20,
			MaxParallelVariants: 3,
		},
		SkipExisting: true,
		MaxRetries:   3,
		RetryBackoff: 2 * time.Second,
		OutputDir:    "output",
		Engine: EngineConfig{
			MaxConnectionLifetime:        480 * time.Second,
			MaxConnectionPoolSize:        50,
			ConnectionAcquisitionTimeout: 60 * time.Second,
		},
		Sinks: SinksConfig{NATSSubject: "rollwin.progress", QdrantCollection: "rollwin_embeddings"},
	}
}

// DefaultBlocks is the feature-group partition of the 60-wide bank feature
// vector. Unlisted indices fall into the remainder block.
func DefaultBlocks() []Block {
	return []Block{
		{Name: "state_feats", Indices: []int{45, 54, 55, 56, 57, 58, 59}},
		{Name: "legal_feats", Indices: []int{1, 9, 14, 15, 16, 17, 18, 19, 21, 22, 27, 41}},
		{Name: "governance_feats", Indices: []int{3, 4, 5, 6, 10, 33, 34, 38, 40, 42, 44, 46}},
		{Name: "finance_feats", Indices: []int{8, 12, 23, 28, 32, 36, 39, 47}},
		{Name: "ip_feats", Indices: []int{25, 31, 37, 48}},
		{Name: "ops_feats", Indices: []int{20, 43, 49, 50, 51, 52, 53}},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, domain.NewConfigurationError("file", path, err)
	}
	return cfg, nil
}

var validate = validator.New()

// identifier matches label and relationship type names that may be spliced
// into Cypher and GDS filter expressions.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks struct constraints and the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return domain.Configf(fe.Namespace(), fmt.Sprint(fe.Value()), "failed %q constraint", fe.Tag())
		}
		return domain.NewConfigurationError("config", "", err)
	}
	if err := ValidateNames("rel_types", c.RelTypes); err != nil {
		return err
	}
	if err := ValidateNames("node_labels", c.NodeLabels); err != nil {
		return err
	}
	if err := ValidateNames("always_retain_labels", c.AlwaysRetainLabels); err != nil {
		return err
	}
	if err := ValidateNames("imputed_rel_type", []string{c.ImputedRelType}); err != nil {
		return err
	}
	lp := c.LinkPrediction
	if err := ValidateNames("link_prediction", []string{lp.PersonLabel, lp.SimilarRelType}); err != nil {
		return err
	}
	if c.Algorithms.HashGNN.Enabled && len(c.Algorithms.HashGNN.FeatureProperties) == 0 {
		return domain.Configf("algorithms.hashgnn.feature_properties", "", "required when hashgnn is enabled")
	}
	if c.Algorithms.FastRP.Enabled && len(c.Algorithms.FastRP.IterationWeights) == 0 {
		return domain.Configf("algorithms.fastrp.iteration_weights", "", "required when fastrp is enabled")
	}
	return nil
}

// ValidateNames rejects empty names and names that are not plain identifiers.
func ValidateNames(field string, names []string) error {
	for _, n := range names {
		if !identifier.MatchString(n) {
			return domain.Configf(field, n, "not a valid label or relationship type")
		}
	}
	return nil
}

// ParseRelTypes splits a comma or whitespace separated list, dropping
// duplicates while keeping first-seen order.
func ParseRelTypes(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' || r == '\n' })
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// RunDir is the directory a run writes into.
func (c *Config) RunDir() string {
	return filepath.Join(c.OutputDir, c.RunName)
}
