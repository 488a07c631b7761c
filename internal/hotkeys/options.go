package hotkeys

// Option customizes an entry on Add and the match criteria on Remove.
// WithOwner and WithDisabled only affect Add.
type Option func(*entryOptions)

type entryOptions struct {
	description     string
	exclude         Exclude
	excludeSelector string
	owner           Owner
	disabled        bool
}

func applyOptions(opts []Option) entryOptions {
	o := entryOptions{exclude: ExcludeDefault}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithDescription sets the free-text label used for display and removal.
func WithDescription(description string) Option {
	return func(o *entryOptions) { o.description = description }
}

// WithExclude replaces the default exclusion categories (ExcludeDefault).
func WithExclude(exclude Exclude) Option {
	return func(o *entryOptions) { o.exclude = exclude }
}

// WithExcludeSelector adds a CSS selector; focused elements matching it
// suppress the entry.
func WithExcludeSelector(selector string) Option {
	return func(o *entryOptions) { o.excludeSelector = selector }
}

// WithOwner removes the entry automatically when owner is done.
func WithOwner(owner Owner) Option {
	return func(o *entryOptions) { o.owner = owner }
}

// WithDisabled registers the entry in the disabled state.
func WithDisabled(disabled bool) Option {
	return func(o *entryOptions) { o.disabled = disabled }
}
