package provider

var DecodeNotification = decodeNotification
