// Package localserver serves the admin API on a Unix domain socket.
//
// The socket is created with mode 0600, so file system permissions decide
// who may administer the node. Requests on the socket need no bearer
// token, which lets an operator on the host recover a node whose token was
// lost. dtnmesh-cli reaches it with --server unix:///path/to/admin.sock.
package localserver
