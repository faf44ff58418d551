package nats

import (
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	rags "github.com/intelliswarm-ai/intelliswarm-rags"
)

const (
	IngestSubject   = "ingest"
	RetrieveSubject = "retrieve"
	AskSubject      = "ask"
)

func Subject(topic string, name string) string {
	return topic + "." + name
}

// CancelSubject is where an asker announces it stopped reading the answer
// sent to reply.
func CancelSubject(reply string) string {
	return reply + ".cancel"
}

func AddEndpoints(nc *nats.Conn, group micro.Group, endpoints rags.EndpointSet) error {
	if err := group.AddEndpoint(IngestSubject, IngestHandler(endpoints.Ingest)); err != nil {
		return err
	}

	if err := group.AddEndpoint(RetrieveSubject, RetrieveHandler(endpoints.Retrieve)); err != nil {
		return err
	}

	return group.AddEndpoint(AskSubject, AskHandler(nc, endpoints.Ask))
}
