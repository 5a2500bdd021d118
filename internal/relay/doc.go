// Package relay forwards print and scale-read requests from the hub to the
// agent that owns the device, and waits for the answer.
//
// The relay is transparent: the request body goes to the agent byte for
// byte, and a 2xx JSON answer comes back byte for byte. Everything else is
// an error:
//
//   - ErrAgentUnknown: the identity was never announced. No network call.
//   - *UnreachableError (matches ErrAgentUnreachable): connection refused,
//     deadline expired (Timeout() is true), non-2xx status, or a body that
//     is not JSON.
//
// Print calls get 30 seconds, scale reads 10, unless configured otherwise.
// Nothing is retried, queued, or cancelled on the agent side once sent.
package relay
