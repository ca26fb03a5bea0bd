package checkout

import "dropcarter/lib/browser"

const layoutRoot = "#__layout > div > div > div > div > div:nth-of-type(2)"

// Markers is the part of the checkout ui the machine knows about. every
// selector is a css selector.
type Markers struct {
	LoginPrompt   browser.Marker
	Rearrangement browser.Marker
	Payment       browser.Marker
	Confirmation  browser.Marker

	// the presence of any of these means the page is reporting an error
	Errors []browser.Marker
	// where the error's title is read from, first match wins
	ErrorTitles []string

	EmailInput    string
	PasswordInput string
	SubmitButton  string
	BackButton    string

	DhlShipping     string
	SurfaceShipping string

	CreditCard      string
	CardNumber      string
	CardOwner       string
	SecurityCode    string
	CardType        string
	ExpirationYear  string
	ExpirationMonth string
}

var DefaultMarkers = Markers{
	LoginPrompt:   browser.Marker{Name: "login_prompt", Selector: ".btn-submit"},
	Rearrangement: browser.Marker{Name: "return_button", Selector: "button", Text: "Return"},
	Payment:       browser.Marker{Name: "form_radio", Selector: ".form-radio"},
	Confirmation: browser.Marker{
		Name:     "place_order_button",
		Selector: layoutRoot + " > section > div:nth-of-type(3) > form > button",
	},

	Errors: []browser.Marker{
		{Name: "alert_text", Selector: ".alert-area__text"},
		{Name: "item_error_title", Selector: ".item-detail__error-title"},
	},
	ErrorTitles: []string{".alert-area__title", ".item-detail__error-title"},

	EmailInput:    `[name="email"]`,
	PasswordInput: `[name="password"]`,
	SubmitButton:  ".btn-submit",
	BackButton:    ".btn-back",

	DhlShipping:     layoutRoot + " > section:nth-of-type(3) > div:nth-of-type(2) > div:nth-of-type(1) > span > label",
	SurfaceShipping: layoutRoot + " > section:nth-of-type(3) > div:nth-of-type(2) > div:nth-of-type(2) > span > label",

	CreditCard:      layoutRoot + " > section:nth-of-type(2) > div > div:nth-of-type(2) > div > label",
	CardNumber:      layoutRoot + " > section:nth-of-type(2) > div > div:nth-of-type(2) > div:nth-of-type(2) > div:nth-of-type(2) > input",
	CardOwner:       layoutRoot + " > section:nth-of-type(2) > div > div:nth-of-type(2) > div:nth-of-type(2) > div:nth-of-type(4) > input",
	SecurityCode:    layoutRoot + " > section:nth-of-type(2) > div > div:nth-of-type(2) > div:nth-of-type(2) > div:nth-of-type(5) > input",
	CardType:        "#selectCardType",
	ExpirationYear:  layoutRoot + " > section:nth-of-type(2) > div > div:nth-of-type(2) > div:nth-of-type(2) > div:nth-of-type(3) > div:nth-of-type(1) > select",
	ExpirationMonth: layoutRoot + " > section:nth-of-type(2) > div > div:nth-of-type(2) > div:nth-of-type(2) > div:nth-of-type(3) > div:nth-of-type(2) > select",
}
