// Spice is a graph-execution engine for agent orchestration. Workflows
// are directed graphs of nodes (agents, tools, decisions, human
// prompts, nested subgraphs) traversed by a stateless runner that
// threads an immutable message through them.
//
// # Quick Start
//
// Install the package:
//
//	go get github.com/smallnest/spice
//
// Build and run a graph:
//
//	g := graph.New("greeting").
//		AddNode(graph.NewAgentNode("greet", greeter)).
//		AddEdge("greet", graph.END).
//		SetEntryPoint("greet")
//	if err := g.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
//	out, err := graph.NewRunner().Execute(ctx, g, message.New("hello"))
//
// # Packages
//
//   - message: the immutable execution payload and its state machine
//   - graph: graphs, nodes, the runner, middleware, and resume plumbing
//   - retry: classification-driven retry with backoff and metrics
//   - checkpoint: pause persistence with memory, file, Redis, Postgres
//     and SQLite backends
//   - event: lifecycle events, buses, and metadata sanitizing
//   - errs: the classified error type shared by every layer
//
// # Human in the Loop
//
// A HumanNode suspends the run into a WAITING message carrying a
// request_user_selection or request_user_input tool call. With a
// checkpoint store configured the pause is persisted and can be
// resumed later, in another process if need be, through
// graph.Resumer, which merges the user's response back into the
// message and drives the run to its next pause or terminal state.
// Pauses inside nested subgraphs resume transparently through the
// subgraph stack the message carries.
//
// See the examples directory for complete runnable programs.
package spice
