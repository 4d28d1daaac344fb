package domain

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

type Action string

const (
	ActionGetProducts        Action = "getProducts"
	ActionGetProductByHandle Action = "getProductByHandle"
	ActionGetProductByID     Action = "getProductById"
	ActionSearch             Action = "search"
	ActionCreateCart         Action = "createCart"
	ActionAddToCart          Action = "addToCart"
	ActionUpdateCart         Action = "updateCart"
	ActionRemoveFromCart     Action = "removeFromCart"
	ActionGetCart            Action = "getCart"
)

// Response is a successful gateway reply. Body holds the whole envelope;
// data fields sit next to "success".
type Response struct {
	Action Action
	Body   json.RawMessage
}

// Get reads a gjson path from the envelope.
func (r Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}
