// The main package for the noticepipe executable.
package main

import (
	"github.com/busanfuneral/notice-pipeline/cmd"
)

func main() {
	cmd.Execute()
}
