package main

import (
	"context"

	"airbnbsync-backend/cmd/accountctl/commands"
	"airbnbsync-backend/lib/telemetry"
)

func main() {
	telemetry.InitSlog(true)
	commands.ExecuteContext(context.Background())
}
