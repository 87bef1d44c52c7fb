package main

import "go.pilab.hu/docflow/cmd/docflowctl/cmd"

func main() {
	cmd.Execute()
}
