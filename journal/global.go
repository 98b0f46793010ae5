package journal

var (
	// J is a globally accessible Journal. It starts being NilJournal, and
	// is reset to whichever Journal is configured early during startup (by
	// the simulator, the filesystem journal). Components can safely record
	// in the journal by calling: journal.J.RecordEvent(...).
	J Journal = NilJournal() // nolint
)
