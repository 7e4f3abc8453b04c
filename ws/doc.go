// Package ws provides the long-lived bidirectional counterpart to the
// request/response client: a websocket [Session] with event-driven
// callbacks, built on [github.com/gorilla/websocket].
//
// # Opening a Session
//
// Register handlers as options and dial:
//
//	s, err := ws.Dial(ctx, "ws://example.com/feed", ws.Config{},
//		ws.OnText(func(s *ws.Session, msg string) {
//			fmt.Println(msg)
//		}),
//		ws.OnClose(func(s *ws.Session, code int, reason string) {
//			fmt.Println("closed:", code)
//		}),
//	)
//
// A session registers a text handler or a binary handler, never both.
//
// # Sending
//
// [Session.SendText] and [Session.SendBinary] are valid only while the
// session is open:
//
//	if err := s.SendText("hello"); err != nil { ... }
//
// Closing sends a close frame and fires the close handler exactly once,
// whether the peer acknowledges or the connection drops.
package ws
