package main

import "github.com/clinicleads/leadflow/cmd"

func main() {
	cmd.Execute()
}
