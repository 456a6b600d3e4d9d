package lucia

// Option adjusts the table resolution of a single adapter call.
type Option func(Tables) Tables

// WithSchema redirects the users and sessions tables to the named schema
// for the duration of one call.
func WithSchema(schema string) Option {
	return func(t Tables) Tables {
		return t.WithSchema(schema)
	}
}
