package httpserver

import "time"

// ShutdownTimeout bounds how long a local server may drain after the
// command that started it is done. Callback and metrics requests are tiny.
var ShutdownTimeout = 3 * time.Second
