// Command mkpayload builds an appendable archive from a directory tree.
//
// Usage:
//
//	mkpayload -o <outputArchive> <sourceDirectory> <logicalRootName> <compressionLevel 0-9>
//
// The output is a bare archive; producing the final distributable is a plain
// concatenation onto a compiled binary:
//
//	cat interpreter lib.payload > interpreter-bundled
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/meigma/payload"
)

func main() {
	out := flag.String("o", "", "output archive path (required)")
	method := flag.String("method", "deflate", "compression method: deflate or zstd")
	comment := flag.String("comment", "", "archive comment")
	verbose := flag.Bool("v", false, "verbose build logging")
	flag.Usage = usage
	flag.Parse()

	if *out == "" || flag.NArg() != 3 {
		usage()
		os.Exit(2)
	}
	sourceDir := flag.Arg(0)
	logicalRoot := flag.Arg(1)

	level, err := strconv.Atoi(flag.Arg(2))
	if err != nil || level < payload.MinCompressionLevel || level > payload.MaxCompressionLevel {
		fatalf("compression level must be an integer 0-9, got %q", flag.Arg(2))
	}

	opts := []payload.BuildOption{
		payload.BuildWithLevel(level),
		payload.BuildWithPrefix(logicalRoot),
		payload.BuildWithComment(*comment),
	}
	switch *method {
	case "deflate":
		opts = append(opts, payload.BuildWithMethod(payload.MethodDeflate))
	case "zstd":
		opts = append(opts, payload.BuildWithMethod(payload.MethodZstd))
	default:
		fatalf("unknown compression method %q", *method)
	}
	if *verbose {
		opts = append(opts, payload.BuildWithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))))
	}

	if err := payload.BuildFile(context.Background(), sourceDir, *out, opts...); err != nil {
		fatalf("build %s: %v", *out, err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: mkpayload -o <outputArchive> [-method deflate|zstd] [-comment text] <sourceDirectory> <logicalRootName> <compressionLevel 0-9>\n")
	flag.PrintDefaults()
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "mkpayload: "+format+"\n", args...)
	os.Exit(1)
}
