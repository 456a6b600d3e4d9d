package lucia

// Tables locates the two tables an adapter operates on. It is a value type:
// schema redirection produces a modified copy, never an in-place change, so
// a Tables value shared by concurrent calls stays immutable.
type Tables struct {
	// Schema selects the database schema holding both tables. Empty means
	// the engine's default (e.g. "public" on Postgres, "main" on SQLite).
	Schema   string
	Users    string
	Sessions string
}

// DefaultTables returns the canonical table names in the default schema.
func DefaultTables() Tables {
	return Tables{
		Users:    "users",
		Sessions: "sessions",
	}
}

// WithSchema returns a copy of t redirected to the named schema.
func (t Tables) WithSchema(schema string) Tables {
	t.Schema = schema
	return t
}

// Resolve applies per-call options to a copy of t and returns it.
func (t Tables) Resolve(opts []Option) Tables {
	for _, opt := range opts {
		t = opt(t)
	}
	return t
}
