package ffmpeg

// DecodeParams describes one RTSP-to-raw-luma decode process.
type DecodeParams struct {
	// Binary is the ffmpeg executable; empty means "ffmpeg" from PATH.
	Binary string

	// Input
	URL         string
	Transport   string       // tcp or udp; empty means tcp
	OpenTimeout int          // socket I/O timeout in microseconds, 0 = ffmpeg default
	Options     []OptionType // input behavior flags
	ExtraInput  []string     // raw args placed before -i
	LogLevel    string       // ffmpeg -loglevel value without the level+ prefix

	// Output
	Width  int
	Height int
	FPS    int // output frame rate cap, 0 = source rate
}
