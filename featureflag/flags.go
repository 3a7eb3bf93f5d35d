package featureflag

type Flag string

const (
	// Culls a tree after every batch of points received over HTTP or a
	// stream frame.
	FlagAutoCullAfterBatch Flag = "AUTO_CULL_AFTER_BATCH"

	// Hides the JSON dump of whole trees.
	FlagDisableTreeDump Flag = "DISABLE_TREE_DUMP"

	// Prevents tree snapshots from being written.
	FlagDisablePersistence Flag = "DISABLE_PERSISTENCE"
)
