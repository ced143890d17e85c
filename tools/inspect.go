// Command inspect prints every routing level of a saved configuration file
// (YAML profile, JSON download or a raw CFG: capture line) with its summary.
//
//	go run ./tools profiles/rehearsal.yaml
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/CK6170/routematrix-web/file"
	"github.com/CK6170/routematrix-web/matrix"
	"github.com/CK6170/routematrix-web/models"
	"github.com/CK6170/routematrix-web/protocol"
)

func main() {
	path := "routing.yaml"
	for _, a := range os.Args[1:] {
		if !strings.HasPrefix(a, "-") {
			path = a
			break
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read config: %v", err)
	}
	// Accept a line copied from a capture file.
	text := strings.TrimSpace(string(data))
	if i := strings.Index(text, protocol.PrefixConfig); i >= 0 {
		text = text[i+len(protocol.PrefixConfig):]
	}
	cfg, err := file.Decode([]byte(text))
	if err != nil {
		log.Fatalf("decode %s: %v", path, err)
	}

	for _, level := range models.Levels {
		fmt.Println(matrix.Render(cfg.Matrix(level), level.String()))
		sum, err := matrix.Summarize(cfg, level)
		if err != nil {
			log.Fatalf("summarize %s: %v", level, err)
		}
		fmt.Printf("routes %d  rank %d  identity %v\n", sum.Active, sum.Rank, sum.Identity)
		fmt.Printf("silent outputs %v\nunused inputs  %v\n", sum.Silent, sum.Unused)
		if level != models.Normal {
			fmt.Printf("shared with normal %d\n", matrix.Overlap(cfg.Matrix(level), cfg.Normal))
		}
		fmt.Println()
	}

	fmt.Println(matrix.MatrixLine)
	fmt.Println("shift functions")
	fmt.Println(matrix.MatrixLine)
	for input, fn := range cfg.ShiftFunctionID {
		fmt.Printf("[%02d] %s\n", input, models.Level(fn))
	}
}
