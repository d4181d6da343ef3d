package main

import "insightpipe/internal/app"

func main() {
	app.Main()
}
