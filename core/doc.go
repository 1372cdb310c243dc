// Package core provides the foundational domain types and interfaces used by
// sqlmesh. It defines the shared vocabulary between the pipeline driver, the
// pub/sub runtime and the externally supplied agents:
//
//   - Messages (QueryMessage, ResponseMessage) and the well-known topics
//   - Connection records and database types
//   - DataAccess, the uniform execute(sql) capability handed to agents
//   - ConnectionRegistry / RegistrySession, the scoped lookup contract
//   - Agent, MessageContext and Runtime, the pub/sub participant contracts
//   - A typed error taxonomy (ErrorType / Error)
//
// Implementations (drivers, stores, the runtime itself) live in sibling
// packages so they can be swapped or faked in tests.
package core
