/*
Package canvaskit is the client core of a visual agent builder.

# Overview

A canvas is a directed graph of components (retrieval, generation,
categorization, tool calls) stored on a backend as a DSL document. canvaskit
keeps one canvas's graph in sync with the backend and runs conversations
against it:

  - dsl: the graph document, its edits, and lossless JSON round trips
  - canvas: the live editor, debounced saving, run-implies-save
  - session: the chat turn state machine
  - attachment: document uploads and inline images for the next turn
  - stream: the event-stream reader for streamed answers
  - api: the backend HTTP client
  - snapshot: local copies of saved graph versions

# Basic Usage

Build a Client from settings, open a canvas, then chat with it:

	cfg, err := config.FromFile("canvaskit.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	settings, err := config.ClientFrom(cfg)
	if err != nil {
	    log.Fatal(err)
	}

	client, err := canvaskit.New(settings)
	if err != nil {
	    log.Fatal(err)
	}
	defer client.Close()

	cv, err := client.OpenCanvas(ctx, "canvas-id")
	if err != nil {
	    log.Fatal(err)
	}
	go cv.Watch(ctx) // save edits once they settle

	chat := client.NewChat(cv, "conversation-id")
	defer chat.Close()

	if _, err := chat.Session.Submit(ctx, session.Submission{Text: "Hello"}); err != nil {
	    log.Fatal(err)
	}
	_ = chat.Session.Wait(ctx)

# Events

Every state change a UI needs to render is published on Client.Events:
turn changes, message list changes, attachment progress, save results and
user-visible notifications. Failed saves, failed turns and failed uploads
are each republished as an event.TypeNotification. Delivery is
asynchronous; handlers must not block for long.
*/
package canvaskit
