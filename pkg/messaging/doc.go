// Package messaging dispatches typed commands over RabbitMQ.
//
// A producer calls Dispatcher.PublishMessage with a Command; the command's
// fields are encoded as a flat JSON object and published to the configured
// queue, with the command type carried in the message headers. A consumer
// process registers one Handler per command type with Register and calls
// Start, which consumes the queue, decodes each message back into its command
// and invokes the matching handler. Messages are handled one at a time.
package messaging
