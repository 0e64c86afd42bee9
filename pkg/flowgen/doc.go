/*
Package flowgen turns a natural-language description of an automation into
an n8n-style workflow document, streaming progress while it works.

# Pipeline

A run moves through five stages in strict order:

	extract_keywords -> search_nodes -> fetch_nodes -> parse_nodes -> generate_workflow

Each stage emits a "started" and a "completed" ProgressEvent. The run ends
with exactly one terminal event: a ResultEvent on success or an ErrorEvent
on the first fatal failure. Nothing is emitted after the terminal event and
the event channel is closed exactly once.

	p, err := flowgen.New(client, index, blobs)
	if err != nil {
	    return err
	}
	for ev := range p.Stream(ctx, flowgen.GenerationRequest{Prompt: prompt}) {
	    // ev.Kind is progress, result or error
	}

# Failure handling

Keyword extraction, search transport, and synthesis failures are fatal.
A search that the index answers with its own error is degraded: the run
continues with no candidates. A candidate whose full description cannot be
fetched is dropped. Node content that is not JSON is kept as text.

# Cancellation

Cancelling the context passed to Stream closes the run. Events produced
afterwards are discarded and in-flight calls observe the cancelled context.
*/
package flowgen
