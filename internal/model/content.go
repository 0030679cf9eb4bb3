package model

import (
	"encoding/json"
	"fmt"
)

// Content block types.
const (
	BlockText      = "text"
	BlockImageURL  = "image_url"
	BlockImageFile = "image_file"
)

// Block is one content block of a message. Exactly the fields matching Type
// are populated.
type Block struct {
	Type string `json:"type"`
	// Text is set for text blocks.
	Text string `json:"text,omitempty"`
	// URL is set for image_url blocks.
	URL string `json:"url,omitempty"`
	// FileID references an uploaded file for image_file blocks.
	FileID string `json:"file_id,omitempty"`
}

// Content is the ordered block list of a message.
type Content []Block

// TextContent builds single-text-block content.
func TextContent(text string) Content {
	return Content{{Type: BlockText, Text: text}}
}

// Validate checks that every block carries the field its type requires.
func (c Content) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("content must have at least one block")
	}
	for i, b := range c {
		switch b.Type {
		case BlockText:
			if b.Text == "" {
				return fmt.Errorf("content[%d]: text block requires text", i)
			}
		case BlockImageURL:
			if b.URL == "" {
				return fmt.Errorf("content[%d]: image_url block requires url", i)
			}
		case BlockImageFile:
			if b.FileID == "" {
				return fmt.Errorf("content[%d]: image_file block requires file_id", i)
			}
		default:
			return fmt.Errorf("content[%d]: unknown block type %q", i, b.Type)
		}
	}
	return nil
}

// FirstText returns the text of the first text block, or "".
func (c Content) FirstText() string {
	for _, b := range c {
		if b.Type == BlockText {
			return b.Text
		}
	}
	return ""
}

// UnmarshalJSON accepts either a plain string (shorthand for one text block)
// or a block array.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = TextContent(s)
		return nil
	}
	var blocks []Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	*c = blocks
	return nil
}
