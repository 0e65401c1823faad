// Package process runs a single long-lived subprocess whose stdout is consumed
// as a data stream.
//
// Process wraps os/exec for decoder-style children:
//   - Stdout is handed to the caller unread, through an os.Pipe so that the
//     reader sees EOF when the child exits
//   - Stderr is scanned line by line, logged through a pluggable LogParser,
//     and the last lines are kept for error reporting
//   - Stop sends SIGINT, then SIGKILL once the graceful timeout expires
//
// Example:
//
//	p := process.NewProcess("front-door", args, logger)
//	p.SetLogParser(logging.GetLogger("ffmpeg"), ffmpeg.ParseLogLevel)
//	stdout, err := p.Start()
//	if err != nil {
//	    return err
//	}
//	defer p.Stop()
//	io.ReadFull(stdout, frame)
package process
