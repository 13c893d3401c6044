// Package core holds the bounty domain model, the collaborator contracts
// (store, forge, payment gateway, coordination store) and the shared error
// taxonomy. Adapters depend on core; core does not depend on adapters.
package core
