package main

// Compiled-in modules. Each registers itself with the core registry at
// init time.
import (
	_ "github.com/flemzord/braid/internal/gateway"
	_ "github.com/flemzord/braid/modules/provider/openai"
	_ "github.com/flemzord/braid/modules/store/sqlite"
)
