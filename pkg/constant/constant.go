package constant

import "time"

const (
	// DefaultDirMode is the default file mode to apply to created directories.
	DefaultDirMode = 0o755
	// DefaultFileMode is the default file mode to apply to created files.
	DefaultFileMode = 0o600
	// DefaultWorldReadableFileMode is the default file mode to apply to files
	// that can be read by other processes.
	DefaultWorldReadableFileMode = 0o644

	// OscapBinary is the external SCAP evaluation tool invoked by the runner.
	OscapBinary = "oscap"

	// DefaultFetchTimeout bounds a single network fetch of content.
	DefaultFetchTimeout = 5 * time.Minute
	// DefaultEvalTimeout bounds a single run of the evaluation tool.
	DefaultEvalTimeout = 30 * time.Minute

	// MaxRedirects is how many HTTP redirects a content fetch will follow.
	MaxRedirects = 5

	// MaxExtractedFileSize caps the decompressed size of a single archive
	// entry, as a decompression bomb mitigation.
	MaxExtractedFileSize = 512 * 1024 * 1024

	// WorkDirPrefix is the name prefix of per-fetch working directories.
	WorkDirPrefix = "scapfetch-content-"
)
