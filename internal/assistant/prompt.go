package assistant

import (
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// groundedSystemPrompt restricts answers to the retrieved context.
const groundedSystemPrompt = "Answer ONLY using the provided context. " +
	"If the answer is not in the context, say 'I don't know'. " +
	"Keep the answer short and factual."

// generalSystemPrompt is used for conversation without retrieval.
const generalSystemPrompt = "You are a helpful assistant. Answer clearly and concisely."

// groundedUserTemplate carries the context block and the question.
const groundedUserTemplate = "Context:\n%s\n\nQuestion: %s"

// Turn is one completed question/answer exchange.
type Turn struct {
	// Question is what the user asked.
	Question string `json:"question"`
	// Answer is the model's reply.
	Answer string `json:"answer"`
}

// renderGrounded returns the single user turn of a grounded request.
func renderGrounded(context, question string) *schema.Message {
	return schema.UserMessage(fmt.Sprintf(groundedUserTemplate, context, question))
}

// historyMessages flattens turns into alternating user/assistant messages,
// oldest first.
func historyMessages(turns []Turn) []*schema.Message {
	msgs := make([]*schema.Message, 0, 2*len(turns))
	for _, t := range turns {
		msgs = append(msgs,
			schema.UserMessage(t.Question),
			schema.AssistantMessage(t.Answer, nil),
		)
	}
	return msgs
}
