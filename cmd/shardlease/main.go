// Command shardlease joins a cluster of instances sharing a store and logs
// the partitions this instance owns for each configured task.
//
//	shardlease run --backend postgres --dsn postgres://... --task reindex=62
//	shardlease status --backend redis --dsn redis://localhost:6379 --task reindex
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
