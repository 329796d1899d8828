// Package livechat connects to Gemini Live through the Cloudflare AI Gateway
// and exposes the connection as observable state for user interfaces.
//
// A [Session] owns the WebSocket: it performs the setup handshake, sends
// user turns and fans inbound frames out to listeners. A [Pool] shares one
// session between several holders and closes it when the last one leaves.
// An [Adapter] sits on top for UI code: it tracks whether it is connected,
// keeps every inbound frame in arrival order and records the last failure,
// notifying subscribers on each change.
//
// # Thread Safety
//
// [Session], [Pool] and [Adapter] are safe for concurrent use by multiple
// goroutines. Message handlers and [Adapter] subscribers run on the
// goroutine that produced the change and must not block.
//
// # Basic Usage
//
//	pool := livechat.NewPool(livechat.WithLogger(slog.Default()))
//
//	chat := livechat.NewAdapter(pool, livechat.Config{
//	    AccountID:   "account",
//	    GatewayName: "gateway",
//	    APIKey:      os.Getenv("GEMINI_API_KEY"),
//	})
//	unsubscribe := chat.Subscribe(func(st livechat.State) {
//	    fmt.Println("connected:", st.Connected, "messages:", len(st.Messages))
//	})
//	defer unsubscribe()
//
//	chat.Mount(ctx) // connects unless WithAutoConnect(false)
//	defer chat.Unmount()
//
//	chat.SendMessage(ctx, "Hello!")
//	if err := chat.State().Err; err != nil {
//	    log.Println(err)
//	}
//
// Frames are delivered raw. Use [ParseServerMessage] to read model text.
package livechat
