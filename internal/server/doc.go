// Package server provides the line-oriented web server that feeds the
// worker pool.
//
// Every accepted TCP connection becomes exactly one pool job. The job reads
// only the request line and answers from a small page set:
//
//	GET / HTTP/1.1       -> HTTP/1.1 200 OK, index.html
//	GET /sleep HTTP/1.1  -> waits SleepDelay, then 200 OK, index.html
//	anything else        -> HTTP/1.1 404 NOT FOUND, 404.html
//
// Responses are "<status>\r\nContent-Length: <n>\r\n\r\n<contents>" and the
// connection is closed afterwards.
//
// # Basic Usage
//
//	pool := worker.New(4)
//	srv := server.New(server.DefaultConfig(), pool)
//	err := srv.ListenAndServe(ctx)
//	pool.Close() // drain connections already handed to the pool
//
// Serve returns when ctx is cancelled, when MaxConnections connections have
// been accepted, or when the pool stops accepting jobs. It never closes the
// pool itself.
//
// # Limits
//
// MaxOpenConns caps concurrently open connections through
// golang.org/x/net/netutil. ReadTimeout bounds how long a job waits for the
// request line, so a silent client cannot hold a worker forever.
package server
