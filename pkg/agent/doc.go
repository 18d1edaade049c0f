// Package agent binds a generative-model session to one chat channel and streams
// each reply into a live-updating placeholder message.
//
// Invariants:
// - Inbound messages that are empty or agent-generated never cause side effects.
// - Every accepted message gets its own placeholder; concurrent replies never share text.
// - A runtime failure ends with exactly one new error message; the placeholder is not edited again.
// - Initialization failures are returned to the caller and no agent is created.
// - Dispose lets accepted replies finish; the model session closes after the last one.
//
// Usage:
//
//	a, err := agent.New(ctx, agent.Options{
//		ChannelID: "messaging:general",
//		APIKey:    os.Getenv("GEMINI_API_KEY"),
//		Transport: transport,
//		Client:    agent.NewGeminiProvider(),
//	})
//	if err != nil {
//		return err
//	}
//	defer a.Dispose(ctx)
package agent
