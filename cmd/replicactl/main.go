package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ChuLiYu/replica-scaler/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "嚴重錯誤: %v\n", r)
			os.Exit(1)
		}
	}()

	os.Exit(cli.Execute(context.Background()))
}
