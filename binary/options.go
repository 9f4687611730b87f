package binary

// Option tweaks a [Binary] while it's built by [New].
type Option func(b *Binary)

// WithVersionArgs customizes the arguments that make the binary print its version.
// Without it, or without arguments, there's no version check and an existing binary
// is replaced whenever a specific version is requested.
func WithVersionArgs(args ...string) Option {
	return func(b *Binary) {
		if len(args) == 0 {
			b.versioncmd = nil
			return
		}
		b.versioncmd = args
	}
}
