// Package mongo implements store.Store on MongoDB using the official v2
// driver. Dequeue claims one document at a time with FindOneAndUpdate;
// recurring upserts use $set plus $setOnInsert so run history survives a
// replace.
package mongo
