package models

type Subscription string

const (
	Free Subscription = "free"
	Pro  Subscription = "pro"
)
