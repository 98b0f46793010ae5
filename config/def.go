package config

// Simulator is the dualtree-sim config.
type Simulator struct {
	Data    Data
	Engine  Engine
	Journal Journal
}

// Data describes the synthetic workload.
type Data struct {
	// QueryPoints and ReferencePoints size the two generated tables.
	QueryPoints     int
	ReferencePoints int

	Dimensions int

	// Seed makes runs reproducible; zero picks a random seed.
	Seed int64
}

// Engine configures the traversal.
type Engine struct {
	Workers int

	// LeafSize caps tree leaves; MaxSubtreeSize caps the query frontier
	// the task queue starts from.
	LeafSize       int
	MaxSubtreeSize int

	// Radius is the range-count radius.
	Radius float64
}

// Journal is the event journal config.
type Journal struct {
	// Path enables the filesystem journal when non-empty; events land in
	// <Path>/journal.
	Path string
}

// DefaultSimulator returns the default config.
func DefaultSimulator() *Simulator {
	return &Simulator{
		Data: Data{
			QueryPoints:     4096,
			ReferencePoints: 4096,
			Dimensions:      3,
		},
		Engine: Engine{
			Workers:        4,
			LeafSize:       16,
			MaxSubtreeSize: 512,
			Radius:         0.1,
		},
	}
}
